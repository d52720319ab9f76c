// Package query is the read side of the tracker: it answers wallet, chain
// and mempool questions by combining the in-memory index with live bitcoind
// calls, and is what the electrum and http servers are built on.
package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/index"
	"github.com/bwt-dev/gobwt/wallet"
)

// feeCacheTTL bounds how stale a served fee estimate may be.
const feeCacheTTL = 60 * time.Second

type cachedFee struct {
	rate *float64 // BTC/kvB, nil when the node had no estimate
	at   time.Time
}

// Query bundles the index and the rpc client behind one read interface.
type Query struct {
	rpc *chain.Client
	ix  *index.Indexer
	log *zap.Logger

	feeMu    sync.Mutex
	feeCache map[int]cachedFee
	relayFee *float64
}

func New(rpc *chain.Client, ix *index.Indexer, log *zap.Logger) *Query {
	return &Query{
		rpc:      rpc,
		ix:       ix,
		log:      log.Named("query"),
		feeCache: make(map[int]cachedFee),
	}
}

// GetTip returns the indexed chain tip.
func (q *Query) GetTip(ctx context.Context) (index.BlockID, error) {
	if tip := q.ix.Tip(); tip != nil {
		return *tip, nil
	}
	// Before the first sync pass, ask the node directly.
	height, err := q.rpc.GetBlockCount(ctx)
	if err != nil {
		return index.BlockID{}, err
	}
	hash, err := q.rpc.GetBlockHash(ctx, height)
	if err != nil {
		return index.BlockID{}, err
	}
	return index.BlockID{Height: uint32(height), Hash: hash}, nil
}

// GetHeaderHex returns the serialized block header at a height.
func (q *Query) GetHeaderHex(ctx context.Context, height uint32) (string, error) {
	hash, err := q.rpc.GetBlockHash(ctx, uint64(height))
	if err != nil {
		return "", err
	}
	return q.rpc.GetBlockHeaderHex(ctx, hash)
}

// GetHeadersHex returns up to count serialized headers starting at height,
// stopping early at the chain tip.
func (q *Query) GetHeadersHex(ctx context.Context, start uint32, count int) ([]string, error) {
	tip, err := q.GetTip(ctx)
	if err != nil {
		return nil, err
	}
	headers := make([]string, 0, count)
	for height := start; height <= tip.Height && len(headers) < count; height++ {
		header, err := q.GetHeaderHex(ctx, height)
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}
	return headers, nil
}

// EstimateFee returns the feerate in BTC/kvB for the confirmation target,
// or nil when the node has no estimate. Results are cached briefly.
func (q *Query) EstimateFee(ctx context.Context, target int) (*float64, error) {
	q.feeMu.Lock()
	if cached, ok := q.feeCache[target]; ok && time.Since(cached.at) < feeCacheTTL {
		q.feeMu.Unlock()
		return cached.rate, nil
	}
	q.feeMu.Unlock()

	result, err := q.rpc.EstimateSmartFee(ctx, target)
	if err != nil {
		return nil, err
	}
	q.feeMu.Lock()
	q.feeCache[target] = cachedFee{rate: result.FeeRate, at: time.Now()}
	q.feeMu.Unlock()
	return result.FeeRate, nil
}

// RelayFee returns the node's minimum relay feerate in BTC/kvB.
func (q *Query) RelayFee(ctx context.Context) (float64, error) {
	q.feeMu.Lock()
	if q.relayFee != nil {
		fee := *q.relayFee
		q.feeMu.Unlock()
		return fee, nil
	}
	q.feeMu.Unlock()

	info, err := q.rpc.GetNetworkInfo(ctx)
	if err != nil {
		return 0, err
	}
	q.feeMu.Lock()
	q.relayFee = &info.RelayFee
	q.feeMu.Unlock()
	return info.RelayFee, nil
}

// GetHistory returns the indexed history of a scripthash.
func (q *Query) GetHistory(sh index.ScriptHash) []index.HistoryEntry {
	return q.ix.Store().GetHistory(sh)
}

// GetTxFee returns the indexed fee of a wallet transaction in satoshis.
func (q *Query) GetTxFee(txid string) uint64 {
	return q.ix.Store().GetTxFee(txid)
}

// GetScriptInfo resolves a tracked scripthash to its address and origin.
func (q *Query) GetScriptInfo(sh index.ScriptHash) (index.ScriptInfo, bool) {
	return q.ix.Store().GetScriptInfo(sh)
}

// ListUnspent returns the utxos of a tracked scripthash with at least
// minConf confirmations.
func (q *Query) ListUnspent(ctx context.Context, sh index.ScriptHash, minConf int) ([]index.Utxo, error) {
	info, ok := q.ix.Store().GetScriptInfo(sh)
	if !ok {
		return nil, nil
	}
	tip, err := q.GetTip(ctx)
	if err != nil {
		return nil, err
	}
	unspents, err := q.rpc.ListUnspent(ctx, 0, []string{info.Address})
	if err != nil {
		return nil, err
	}
	utxos := make([]index.Utxo, 0, len(unspents))
	for _, u := range unspents {
		if u.Confirmations < minConf {
			continue
		}
		status := index.NewTxStatus(u.Confirmations, tip.Height)
		utxos = append(utxos, index.Utxo{
			Txid:   u.Txid,
			Vout:   u.Vout,
			Value:  btcToSats(u.Amount),
			Status: status,
			Height: status.Height(),
		})
	}
	return utxos, nil
}

// Balance is a scripthash balance split by confirmation state, in satoshis.
type Balance struct {
	Confirmed   uint64 `json:"confirmed"`
	Unconfirmed uint64 `json:"unconfirmed"`
}

// GetBalance sums the scripthash's utxos.
func (q *Query) GetBalance(ctx context.Context, sh index.ScriptHash) (Balance, error) {
	utxos, err := q.ListUnspent(ctx, sh, 0)
	if err != nil {
		return Balance{}, err
	}
	var balance Balance
	for _, u := range utxos {
		if u.Status.Confirmed() {
			balance.Confirmed += u.Value
		} else {
			balance.Unconfirmed += u.Value
		}
	}
	return balance, nil
}

// GetRawTransaction returns a transaction's hex serialization.
func (q *Query) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	return q.rpc.GetRawTransaction(ctx, txid)
}

// GetTransactionVerbose returns bitcoind's decoded form of a transaction.
func (q *Query) GetTransactionVerbose(ctx context.Context, txid string) ([]byte, error) {
	raw, err := q.rpc.GetRawTransactionVerbose(ctx, txid)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Broadcast submits a raw transaction and returns its txid.
func (q *Query) Broadcast(ctx context.Context, txHex string) (string, error) {
	txid, err := q.rpc.SendRawTransaction(ctx, txHex)
	if err != nil {
		return "", err
	}
	q.log.Info("broadcast tx", zap.String("txid", txid))
	return txid, nil
}

// Wallets lists the tracked wallet summaries.
func (q *Query) Wallets() []wallet.Summary {
	return q.ix.Watcher().Summaries()
}

// Scripts lists all tracked scripthashes.
func (q *Query) Scripts() []index.ScriptInfo {
	return q.ix.Store().Scripts()
}

// MempoolInfo returns the node's mempool statistics.
func (q *Query) MempoolInfo(ctx context.Context) (*chain.MempoolInfo, error) {
	return q.rpc.GetMempoolInfo(ctx)
}

func btcToSats(btc float64) uint64 {
	return uint64(btc*1e8 + 0.5)
}
