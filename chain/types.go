package chain

import (
	"encoding/json"
	"fmt"
)

// BlockchainInfo is the subset of getblockchaininfo the tracker uses.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               uint64  `json:"blocks"`
	Headers              uint64  `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	VerificationProgress float64 `json:"verificationprogress"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	MedianTime           uint64  `json:"mediantime"`
	Pruned               bool    `json:"pruned"`
}

// Synced reports whether the node finished its initial block download.
// Regtest nodes never leave IBD, so the flag is ignored there.
func (i *BlockchainInfo) Synced() bool {
	return i.Blocks == i.Headers && (!i.InitialBlockDownload || i.Chain == "regtest")
}

// ScanningDetails is the getwalletinfo "scanning" field: false when idle,
// an object with progress and elapsed duration while a rescan runs.
type ScanningDetails struct {
	Active   bool
	Progress float64
	Duration uint64
}

func (s *ScanningDetails) UnmarshalJSON(b []byte) error {
	if string(b) == "false" || string(b) == "null" {
		*s = ScanningDetails{}
		return nil
	}
	var details struct {
		Duration uint64  `json:"duration"`
		Progress float64 `json:"progress"`
	}
	if err := json.Unmarshal(b, &details); err != nil {
		return fmt.Errorf("invalid scanning details %s: %w", b, err)
	}
	*s = ScanningDetails{Active: true, Progress: details.Progress, Duration: details.Duration}
	return nil
}

// WalletInfo is the subset of getwalletinfo the tracker uses.
type WalletInfo struct {
	WalletName string           `json:"walletname"`
	TxCount    uint64           `json:"txcount"`
	Scanning   *ScanningDetails `json:"scanning"`
}

// TxCategory is the listtransactions/listsinceblock category field.
type TxCategory string

const (
	CategoryReceive  TxCategory = "receive"
	CategorySend     TxCategory = "send"
	CategoryGenerate TxCategory = "generate"
	CategoryImmature TxCategory = "immature"
	CategoryOrphan   TxCategory = "orphan"
)

// WalletTx is one entry of a listsinceblock reply.
type WalletTx struct {
	Address       string     `json:"address"`
	Category      TxCategory `json:"category"`
	Amount        float64    `json:"amount"`
	Label         string     `json:"label"`
	Vout          uint32     `json:"vout"`
	Fee           *float64   `json:"fee"`
	Confirmations int        `json:"confirmations"`
	BlockHash     string     `json:"blockhash"`
	BlockHeight   uint32     `json:"blockheight"`
	Txid          string     `json:"txid"`
	Time          uint64     `json:"time"`
}

// ListSinceBlockResult is the listsinceblock reply.
type ListSinceBlockResult struct {
	Transactions []WalletTx `json:"transactions"`
	Removed      []WalletTx `json:"removed"`
	LastBlock    string     `json:"lastblock"`
}

// Unspent is one entry of a listunspent reply.
type Unspent struct {
	Txid          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Label         string  `json:"label"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Safe          bool    `json:"safe"`
}

// ImportRequest is one entry of an importmulti batch.
type ImportRequest struct {
	ScriptPubKey ImportScript `json:"scriptPubKey"`
	Timestamp    any          `json:"timestamp"`
	WatchOnly    bool         `json:"watchonly"`
	Label        string       `json:"label"`
}

// ImportScript is the {"address": ...} form of an importmulti scriptPubKey.
type ImportScript struct {
	Address string `json:"address"`
}

// ImportResult is one entry of an importmulti reply.
type ImportResult struct {
	Success bool      `json:"success"`
	Error   *RPCError `json:"error"`
}

// SmartFeeResult is the estimatesmartfee reply. FeeRate is in BTC/kvB and
// missing when the node has no estimate for the target.
type SmartFeeResult struct {
	FeeRate *float64 `json:"feerate"`
	Errors  []string `json:"errors"`
}

// NetworkInfo is the subset of getnetworkinfo the tracker uses.
type NetworkInfo struct {
	RelayFee float64 `json:"relayfee"`
	Version  int64   `json:"version"`
	Subver   string  `json:"subversion"`
}

// MempoolEntry is the subset of a verbose getrawmempool entry needed for
// the fee histogram.
type MempoolEntry struct {
	VSize uint64 `json:"vsize"`
	Fees  struct {
		Base float64 `json:"base"`
	} `json:"fees"`
}

// MempoolInfo is the subset of getmempoolinfo the tracker uses.
type MempoolInfo struct {
	Size          uint64  `json:"size"`
	Bytes         uint64  `json:"bytes"`
	MempoolMinFee float64 `json:"mempoolminfee"`
}

// BlockTxids is a getblock verbosity=1 reply trimmed to the tx list.
type BlockTxids struct {
	Hash   string   `json:"hash"`
	Height uint32   `json:"height"`
	Txids  []string `json:"tx"`
}

// GetTransactionResult is the subset of a gettransaction reply the indexer
// needs to resolve outgoing payments.
type GetTransactionResult struct {
	Txid          string   `json:"txid"`
	Hex           string   `json:"hex"`
	Confirmations int      `json:"confirmations"`
	BlockHash     string   `json:"blockhash"`
	BlockHeight   uint32   `json:"blockheight"`
	Fee           *float64 `json:"fee"`
	Time          uint64   `json:"time"`
}
