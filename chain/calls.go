package chain

import (
	"context"
	"encoding/json"
)

// GetBlockchainInfo calls getblockchaininfo.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockCount returns the current tip height.
func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := c.Call(ctx, "getblockcount", nil, &count)
	return count, err
}

// GetBlockHash returns the block hash at the given height.
func (c *Client) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	err := c.Call(ctx, "getblockhash", []any{height}, &hash)
	return hash, err
}

// GetBestBlockHash returns the tip block hash.
func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	err := c.Call(ctx, "getbestblockhash", nil, &hash)
	return hash, err
}

// GetBlockHeaderHex returns the raw serialized header for a block hash.
func (c *Client) GetBlockHeaderHex(ctx context.Context, hash string) (string, error) {
	var hex string
	err := c.Call(ctx, "getblockheader", []any{hash, false}, &hex)
	return hex, err
}

// GetBlockTxids returns the txids of a block in block order.
func (c *Client) GetBlockTxids(ctx context.Context, hash string) (*BlockTxids, error) {
	var block BlockTxids
	if err := c.Call(ctx, "getblock", []any{hash, 1}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetWalletInfo calls getwalletinfo.
func (c *Client) GetWalletInfo(ctx context.Context) (*WalletInfo, error) {
	var info WalletInfo
	if err := c.Call(ctx, "getwalletinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSinceBlock lists wallet transactions since the given block hash (all
// of them when the hash is empty), including watch-only entries.
func (c *Client) ListSinceBlock(ctx context.Context, blockHash string) (*ListSinceBlockResult, error) {
	params := []any{nil, 1, true, true}
	if blockHash != "" {
		params[0] = blockHash
	}
	var result ListSinceBlockResult
	if err := c.Call(ctx, "listsinceblock", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListUnspent lists utxos for the given addresses, including unconfirmed
// and unsafe ones. Status filtering is left to the caller.
func (c *Client) ListUnspent(ctx context.Context, minConf int, addresses []string) ([]Unspent, error) {
	var unspents []Unspent
	err := c.Call(ctx, "listunspent", []any{minConf, 9999999, addresses, false}, &unspents)
	return unspents, err
}

// ImportMulti imports a batch of watch-only addresses.
func (c *Client) ImportMulti(ctx context.Context, reqs []ImportRequest) ([]ImportResult, error) {
	var results []ImportResult
	err := c.Call(ctx, "importmulti", []any{reqs, map[string]bool{"rescan": false}}, &results)
	return results, err
}

// ImportMultiRescan imports a batch and lets bitcoind kick off the rescan
// implied by the entries' timestamps.
func (c *Client) ImportMultiRescan(ctx context.Context, reqs []ImportRequest) ([]ImportResult, error) {
	var results []ImportResult
	err := c.Call(ctx, "importmulti", []any{reqs}, &results)
	return results, err
}

// ListLabels calls listlabels.
func (c *Client) ListLabels(ctx context.Context) ([]string, error) {
	var labels []string
	err := c.Call(ctx, "listlabels", nil, &labels)
	return labels, err
}

// GetAddressesByLabel returns the addresses filed under a label. A missing
// label is not an error, just an empty set.
func (c *Client) GetAddressesByLabel(ctx context.Context, label string) ([]string, error) {
	var entries map[string]json.RawMessage
	if err := c.Call(ctx, "getaddressesbylabel", []any{label}, &entries); err != nil {
		if ErrorCode(err) == CodeInvalidLabelName {
			return nil, nil
		}
		return nil, err
	}
	addrs := make([]string, 0, len(entries))
	for addr := range entries {
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// GetTransaction calls gettransaction for a wallet transaction.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*GetTransactionResult, error) {
	var result GetTransactionResult
	if err := c.Call(ctx, "gettransaction", []any{txid, true}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRawTransaction returns a raw transaction as hex.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	var hex string
	err := c.Call(ctx, "getrawtransaction", []any{txid}, &hex)
	return hex, err
}

// GetRawTransactionVerbose returns the decoded form of a transaction.
func (c *Client) GetRawTransactionVerbose(ctx context.Context, txid string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.Call(ctx, "getrawtransaction", []any{txid, true}, &raw)
	return raw, err
}

// SendRawTransaction broadcasts a raw transaction and returns its txid.
func (c *Client) SendRawTransaction(ctx context.Context, hex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []any{hex}, &txid)
	return txid, err
}

// EstimateSmartFee calls estimatesmartfee for a confirmation target.
func (c *Client) EstimateSmartFee(ctx context.Context, target int) (*SmartFeeResult, error) {
	var result SmartFeeResult
	if err := c.Call(ctx, "estimatesmartfee", []any{target}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetNetworkInfo calls getnetworkinfo.
func (c *Client) GetNetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	var info NetworkInfo
	if err := c.Call(ctx, "getnetworkinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMempoolInfo calls getmempoolinfo.
func (c *Client) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.Call(ctx, "getmempoolinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetRawMempoolVerbose returns the verbose mempool entries keyed by txid.
func (c *Client) GetRawMempoolVerbose(ctx context.Context) (map[string]MempoolEntry, error) {
	var entries map[string]MempoolEntry
	err := c.Call(ctx, "getrawmempool", []any{true}, &entries)
	return entries, err
}

// LoadWallet makes bitcoind load (or confirm) the configured wallet.
// An already-loaded wallet is not an error.
func (c *Client) LoadWallet(ctx context.Context, name string) error {
	err := c.Call(ctx, "loadwallet", []any{name}, nil)
	if err != nil && ErrorCode(err) == CodeWalletError {
		// "Wallet ... is already loaded"
		return nil
	}
	return err
}
