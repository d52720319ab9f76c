package index

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/config"
	"github.com/bwt-dev/gobwt/wallet"
)

// Indexer pulls wallet transactions out of bitcoind with listsinceblock and
// folds them into the memory store, keeping the watcher's address imports in
// step along the way.
type Indexer struct {
	rpc     *chain.Client
	watcher *wallet.Watcher
	store   *MemoryStore
	network config.Network
	log     *zap.Logger

	tip       *BlockID
	lastBlock string // listsinceblock cursor
}

func New(rpc *chain.Client, watcher *wallet.Watcher, network config.Network, log *zap.Logger) *Indexer {
	return &Indexer{
		rpc:     rpc,
		watcher: watcher,
		store:   NewMemoryStore(),
		network: network,
		log:     log.Named("index"),
	}
}

// Store exposes the underlying index for read access.
func (ix *Indexer) Store() *MemoryStore { return ix.store }

// Watcher exposes the wallet watcher.
func (ix *Indexer) Watcher() *wallet.Watcher { return ix.watcher }

// Tip returns the last synced chain tip, or nil before the first sync.
func (ix *Indexer) Tip() *BlockID {
	if ix.tip == nil {
		return nil
	}
	t := *ix.tip
	return &t
}

type pendingSend struct {
	txid   string
	status TxStatus
	fee    uint64
}

// Sync processes everything that happened since the previous call: new and
// updated wallet transactions, conflicted replacements, reorgs and address
// imports. When track is set it returns the resulting changelog; the initial
// sync passes false to skip building one. The second return value is the
// number of addresses imported into bitcoind during the pass.
func (ix *Indexer) Sync(ctx context.Context, track bool) ([]Change, int, error) {
	tipHeight64, err := ix.rpc.GetBlockCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	tipHeight := uint32(tipHeight64)
	tipHash, err := ix.rpc.GetBlockHash(ctx, tipHeight64)
	if err != nil {
		return nil, 0, err
	}

	var changes []Change
	if ix.tip != nil && ix.tip.Hash != tipHash {
		reorged, err := ix.detectReorg(ctx, tipHeight)
		if err != nil {
			return nil, 0, err
		}
		if reorged {
			if track {
				changes = append(changes, reorgChange(ix.tip.Height, ix.tip.Hash))
			}
			// Re-read the whole wallet history, statuses under the
			// stale branch are no longer trustworthy.
			ix.lastBlock = ""
		}
	}

	since, err := ix.rpc.ListSinceBlock(ctx, ix.lastBlock)
	if err != nil {
		return nil, 0, err
	}

	var sends []pendingSend
	seenSend := make(map[string]bool)
	for _, tx := range since.Transactions {
		switch tx.Category {
		case chain.CategoryReceive, chain.CategoryGenerate, chain.CategoryImmature:
			if cs, err := ix.indexIncoming(&tx, tipHeight, track); err != nil {
				ix.log.Warn("skipping incoming tx", zap.String("txid", tx.Txid), zap.Error(err))
			} else {
				changes = append(changes, cs...)
			}
		case chain.CategorySend:
			if seenSend[tx.Txid] {
				continue
			}
			seenSend[tx.Txid] = true
			sends = append(sends, pendingSend{
				txid:   tx.Txid,
				status: NewTxStatus(tx.Confirmations, tipHeight),
				fee:    btcToSats(tx.Fee),
			})
		}
	}

	for _, send := range sends {
		cs, err := ix.indexOutgoing(ctx, send, track)
		if err != nil {
			ix.log.Warn("skipping outgoing tx", zap.String("txid", send.txid), zap.Error(err))
			continue
		}
		changes = append(changes, cs...)
	}

	imported, err := ix.watcher.Watch(ctx, ix.rpc)
	if err != nil {
		return nil, 0, err
	}

	newTip := BlockID{Height: tipHeight, Hash: tipHash}
	if ix.tip == nil || *ix.tip != newTip {
		if track {
			changes = append(changes, chainTipChange(newTip))
		}
		ix.tip = &newTip
	}
	ix.lastBlock = since.LastBlock

	if len(changes) > 0 {
		ix.log.Debug("sync pass done",
			zap.Uint32("tip", tipHeight),
			zap.Int("changes", len(changes)),
			zap.Int("imported", imported))
	}
	return changes, imported, nil
}

// detectReorg checks whether the block our previous tip pointed at is still
// in the best chain.
func (ix *Indexer) detectReorg(ctx context.Context, tipHeight uint32) (bool, error) {
	if ix.tip.Height > tipHeight {
		return true, nil
	}
	hashAt, err := ix.rpc.GetBlockHash(ctx, uint64(ix.tip.Height))
	if err != nil {
		return false, err
	}
	if hashAt != ix.tip.Hash {
		ix.log.Warn("reorg detected",
			zap.Uint32("height", ix.tip.Height),
			zap.String("was", ix.tip.Hash),
			zap.String("now", hashAt))
		return true, nil
	}
	return false, nil
}

// indexIncoming folds one receive-side listsinceblock entry into the store.
// Entries whose label was not written by the tracker are ignored.
func (ix *Indexer) indexIncoming(tx *chain.WalletTx, tipHeight uint32, track bool) ([]Change, error) {
	origin, ok := wallet.OriginFromLabel(tx.Label)
	if !ok {
		return nil, nil
	}

	status := NewTxStatus(tx.Confirmations, tipHeight)
	if !status.Viable() {
		return ix.purge(tx.Txid, track), nil
	}

	sh, err := ScriptHashFromAddress(tx.Address, ix.network)
	if err != nil {
		return nil, err
	}
	ix.store.TrackScriptHash(sh, tx.Address, origin)
	ix.watcher.MarkFunded(origin)

	var changes []Change
	if ix.store.IndexTx(tx.Txid, status, 0) && track {
		changes = append(changes, transactionChange(tx.Txid, status))
	}
	op := OutPoint{Txid: tx.Txid, Vout: tx.Vout}
	newTxo, newHistory := ix.store.IndexFunding(tx.Txid, tx.Vout, sh)
	if track && newTxo {
		changes = append(changes, txoFundedChange(op, sh))
	}
	if track && newHistory {
		changes = append(changes, historyChange(sh, tx.Txid))
	}
	return changes, nil
}

// indexOutgoing resolves a send-side entry by decoding the raw transaction
// and matching its inputs against previously funded outpoints.
func (ix *Indexer) indexOutgoing(ctx context.Context, send pendingSend, track bool) ([]Change, error) {
	if !send.status.Viable() {
		return ix.purge(send.txid, track), nil
	}

	info, err := ix.rpc.GetTransaction(ctx, send.txid)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(info.Hex)
	if err != nil {
		return nil, fmt.Errorf("undecodable tx hex for %s: %w", send.txid, err)
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("undecodable tx %s: %w", send.txid, err)
	}

	var changes []Change
	if ix.store.IndexTx(send.txid, send.status, send.fee) && track {
		changes = append(changes, transactionChange(send.txid, send.status))
	}
	for _, in := range msg.TxIn {
		prevout := OutPoint{
			Txid: in.PreviousOutPoint.Hash.String(),
			Vout: in.PreviousOutPoint.Index,
		}
		sh, funded := ix.store.GetFundedScriptHash(prevout)
		if !funded {
			continue
		}
		newSpend, newHistory := ix.store.IndexSpending(send.txid, prevout, sh)
		if track && newSpend {
			changes = append(changes, txoSpentChange(prevout, sh))
		}
		if track && newHistory {
			changes = append(changes, historyChange(sh, send.txid))
		}
	}
	return changes, nil
}

func (ix *Indexer) purge(txid string, track bool) []Change {
	if !ix.store.PurgeTx(txid) {
		return nil
	}
	ix.log.Info("purged replaced tx", zap.String("txid", txid))
	if !track {
		return nil
	}
	return []Change{txReplacedChange(txid)}
}

// btcToSats converts a (possibly negative) BTC amount to absolute satoshis.
func btcToSats(btc *float64) uint64 {
	if btc == nil {
		return 0
	}
	return uint64(math.Round(math.Abs(*btc) * 1e8))
}
