package electrum

import (
	"context"

	"github.com/bwt-dev/gobwt/index"
	"github.com/bwt-dev/gobwt/query"
)

// Backend is the slice of the query layer the electrum server needs.
type Backend interface {
	GetTip(ctx context.Context) (index.BlockID, error)
	GetHeaderHex(ctx context.Context, height uint32) (string, error)
	GetHeadersHex(ctx context.Context, start uint32, count int) ([]string, error)
	EstimateFee(ctx context.Context, target int) (*float64, error)
	RelayFee(ctx context.Context) (float64, error)
	GetHistory(sh index.ScriptHash) []index.HistoryEntry
	GetTxFee(txid string) uint64
	GetBalance(ctx context.Context, sh index.ScriptHash) (query.Balance, error)
	ListUnspent(ctx context.Context, sh index.ScriptHash, minConf int) ([]index.Utxo, error)
	GetRawTransaction(ctx context.Context, txid string) (string, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	GetMerkleProof(ctx context.Context, txid string, height uint32) (*query.MerkleProof, error)
	FeeHistogram(ctx context.Context) ([][2]float64, error)
}
