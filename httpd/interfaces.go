// Package httpd exposes the tracker over a REST API with server-sent event
// and websocket streams of index changes.
package httpd

import (
	"context"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/index"
	"github.com/bwt-dev/gobwt/query"
	"github.com/bwt-dev/gobwt/wallet"
)

// Backend is the slice of the query layer the http server needs.
type Backend interface {
	GetTip(ctx context.Context) (index.BlockID, error)
	GetHeaderHex(ctx context.Context, height uint32) (string, error)
	EstimateFee(ctx context.Context, target int) (*float64, error)
	GetHistory(sh index.ScriptHash) []index.HistoryEntry
	GetBalance(ctx context.Context, sh index.ScriptHash) (query.Balance, error)
	ListUnspent(ctx context.Context, sh index.ScriptHash, minConf int) ([]index.Utxo, error)
	GetScriptInfo(sh index.ScriptHash) (index.ScriptInfo, bool)
	Scripts() []index.ScriptInfo
	Wallets() []wallet.Summary
	GetRawTransaction(ctx context.Context, txid string) (string, error)
	GetTransactionVerbose(ctx context.Context, txid string) ([]byte, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	FeeHistogram(ctx context.Context) ([][2]float64, error)
	MempoolInfo(ctx context.Context) (*chain.MempoolInfo, error)
}
