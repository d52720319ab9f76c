package index

// Change categories emitted by the indexer.
const (
	CategoryChainTip    = "chaintip"
	CategoryReorg       = "reorg"
	CategoryTransaction = "transaction"
	CategoryTxReplaced  = "transaction_replaced"
	CategoryTxoFunded   = "txo_funded"
	CategoryTxoSpent    = "txo_spent"
	CategoryHistory     = "history"
)

// Change is one entry of the sync changelog, delivered to electrum
// subscriptions, http streams and webhook receivers.
type Change struct {
	Category    string `json:"category"`
	Txid        string `json:"txid,omitempty"`
	ScriptHash  string `json:"scripthash,omitempty"`
	Outpoint    string `json:"outpoint,omitempty"`
	BlockHeight uint32 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
}

func chainTipChange(tip BlockID) Change {
	return Change{Category: CategoryChainTip, BlockHeight: tip.Height, BlockHash: tip.Hash}
}

func reorgChange(height uint32, hash string) Change {
	return Change{Category: CategoryReorg, BlockHeight: height, BlockHash: hash}
}

func transactionChange(txid string, status TxStatus) Change {
	return Change{Category: CategoryTransaction, Txid: txid, BlockHeight: status.Height()}
}

func txReplacedChange(txid string) Change {
	return Change{Category: CategoryTxReplaced, Txid: txid}
}

func txoFundedChange(op OutPoint, sh ScriptHash) Change {
	return Change{Category: CategoryTxoFunded, Txid: op.Txid, Outpoint: op.String(), ScriptHash: sh.String()}
}

func txoSpentChange(op OutPoint, sh ScriptHash) Change {
	return Change{Category: CategoryTxoSpent, Txid: op.Txid, Outpoint: op.String(), ScriptHash: sh.String()}
}

func historyChange(sh ScriptHash, txid string) Change {
	return Change{Category: CategoryHistory, ScriptHash: sh.String(), Txid: txid}
}
