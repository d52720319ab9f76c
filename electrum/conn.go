package electrum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/index"
)

const maxLineSize = 1 << 20

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternal       = -32603
)

type conn struct {
	c     net.Conn
	query Backend
	log   *zap.Logger

	writeMu sync.Mutex

	subMu      sync.Mutex
	headersSub bool
	scriptSubs map[index.ScriptHash]*string // last status sent, nil for empty history

	closeOnce sync.Once
}

func newConn(c net.Conn, query Backend, log *zap.Logger) *conn {
	return &conn{
		c:          c,
		query:      query,
		log:        log.With(zap.String("peer", c.RemoteAddr().String())),
		scriptSubs: make(map[index.ScriptHash]*string),
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { c.c.Close() })
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()
	c.log.Debug("electrum client connected")

	scanner := bufio.NewScanner(c.c)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			c.log.Debug("dropping undecodable request", zap.Error(err))
			return
		}
		c.handle(ctx, &req)
	}
	c.log.Debug("electrum client disconnected")
}

func (c *conn) handle(ctx context.Context, req *request) {
	result, err := c.dispatch(ctx, req)
	if err != nil {
		rpcErr, ok := err.(*rpcError)
		if !ok {
			rpcErr = &rpcError{Code: codeInternal, Message: err.Error()}
		}
		c.writeJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": rpcErr})
		return
	}
	c.writeJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (e *rpcError) Error() string { return e.Message }

func errInvalidParams(msg string) error { return &rpcError{Code: codeInvalidParams, Message: msg} }

func errMethodNotFound(m string) error {
	return &rpcError{Code: codeMethodNotFound, Message: "unknown method " + m}
}

func errInternal(err error) error { return &rpcError{Code: codeInternal, Message: err.Error()} }

func (c *conn) dispatch(ctx context.Context, req *request) (any, error) {
	switch req.Method {
	case "server.version":
		return []string{serverVersion, ProtocolVersion}, nil
	case "server.banner":
		return serverBanner, nil
	case "server.donation_address":
		return nil, nil
	case "server.ping":
		return nil, nil
	case "server.peers.subscribe":
		return []any{}, nil

	case "blockchain.headers.subscribe":
		return c.headersSubscribe(ctx)
	case "blockchain.block.header":
		return c.blockHeader(ctx, req.Params)
	case "blockchain.block.headers":
		return c.blockHeaders(ctx, req.Params)
	case "blockchain.estimatefee":
		return c.estimateFee(ctx, req.Params)
	case "blockchain.relayfee":
		fee, err := c.query.RelayFee(ctx)
		if err != nil {
			return nil, errInternal(err)
		}
		return fee, nil

	case "blockchain.scripthash.subscribe":
		return c.scriptHashSubscribe(req.Params)
	case "blockchain.scripthash.unsubscribe":
		return c.scriptHashUnsubscribe(req.Params)
	case "blockchain.scripthash.get_balance":
		return c.getBalance(ctx, req.Params)
	case "blockchain.scripthash.get_history":
		return c.getHistory(req.Params)
	case "blockchain.scripthash.listunspent":
		return c.listUnspent(ctx, req.Params)

	case "blockchain.transaction.get":
		return c.transactionGet(ctx, req.Params)
	case "blockchain.transaction.broadcast":
		return c.transactionBroadcast(ctx, req.Params)
	case "blockchain.transaction.get_merkle":
		return c.transactionGetMerkle(ctx, req.Params)

	case "mempool.get_fee_histogram":
		histogram, err := c.query.FeeHistogram(ctx)
		if err != nil {
			return nil, errInternal(err)
		}
		return histogram, nil

	default:
		return nil, errMethodNotFound(req.Method)
	}
}

func (c *conn) headersSubscribe(ctx context.Context) (any, error) {
	tip, err := c.query.GetTip(ctx)
	if err != nil {
		return nil, errInternal(err)
	}
	header, err := c.query.GetHeaderHex(ctx, tip.Height)
	if err != nil {
		return nil, errInternal(err)
	}
	c.subMu.Lock()
	c.headersSub = true
	c.subMu.Unlock()
	return map[string]any{"height": tip.Height, "hex": header}, nil
}

func (c *conn) blockHeader(ctx context.Context, params []json.RawMessage) (any, error) {
	var height uint32
	if err := paramAt(params, 0, &height); err != nil {
		return nil, err
	}
	header, err := c.query.GetHeaderHex(ctx, height)
	if err != nil {
		return nil, errInternal(err)
	}
	return header, nil
}

func (c *conn) blockHeaders(ctx context.Context, params []json.RawMessage) (any, error) {
	var start uint32
	var count int
	if err := paramAt(params, 0, &start); err != nil {
		return nil, err
	}
	if err := paramAt(params, 1, &count); err != nil {
		return nil, err
	}
	const maxHeaders = 2016
	if count > maxHeaders {
		count = maxHeaders
	}
	headers, err := c.query.GetHeadersHex(ctx, start, count)
	if err != nil {
		return nil, errInternal(err)
	}
	return map[string]any{
		"hex":   strings.Join(headers, ""),
		"count": len(headers),
		"max":   maxHeaders,
	}, nil
}

func (c *conn) estimateFee(ctx context.Context, params []json.RawMessage) (any, error) {
	var target int
	if err := paramAt(params, 0, &target); err != nil {
		return nil, err
	}
	rate, err := c.query.EstimateFee(ctx, target)
	if err != nil {
		return nil, errInternal(err)
	}
	if rate == nil {
		return -1, nil
	}
	return *rate, nil
}

func (c *conn) scriptHashSubscribe(params []json.RawMessage) (any, error) {
	sh, err := scriptHashParam(params)
	if err != nil {
		return nil, err
	}
	status := statusHash(c.query.GetHistory(sh))
	c.subMu.Lock()
	c.scriptSubs[sh] = status
	c.subMu.Unlock()
	if status == nil {
		return nil, nil
	}
	return *status, nil
}

func (c *conn) scriptHashUnsubscribe(params []json.RawMessage) (any, error) {
	sh, err := scriptHashParam(params)
	if err != nil {
		return nil, err
	}
	c.subMu.Lock()
	delete(c.scriptSubs, sh)
	c.subMu.Unlock()
	return true, nil
}

func (c *conn) getBalance(ctx context.Context, params []json.RawMessage) (any, error) {
	sh, err := scriptHashParam(params)
	if err != nil {
		return nil, err
	}
	balance, err := c.query.GetBalance(ctx, sh)
	if err != nil {
		return nil, errInternal(err)
	}
	return balance, nil
}

func (c *conn) getHistory(params []json.RawMessage) (any, error) {
	sh, err := scriptHashParam(params)
	if err != nil {
		return nil, err
	}
	history := c.query.GetHistory(sh)
	out := make([]map[string]any, 0, len(history))
	for _, entry := range history {
		item := map[string]any{
			"tx_hash": entry.Txid,
			"height":  int32(entry.Status.Height()),
		}
		if !entry.Status.Confirmed() {
			item["fee"] = c.query.GetTxFee(entry.Txid)
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *conn) listUnspent(ctx context.Context, params []json.RawMessage) (any, error) {
	sh, err := scriptHashParam(params)
	if err != nil {
		return nil, err
	}
	utxos, err := c.query.ListUnspent(ctx, sh, 0)
	if err != nil {
		return nil, errInternal(err)
	}
	out := make([]map[string]any, 0, len(utxos))
	for _, u := range utxos {
		out = append(out, map[string]any{
			"tx_hash": u.Txid,
			"tx_pos":  u.Vout,
			"height":  u.Height,
			"value":   u.Value,
		})
	}
	return out, nil
}

func (c *conn) transactionGet(ctx context.Context, params []json.RawMessage) (any, error) {
	var txid string
	if err := paramAt(params, 0, &txid); err != nil {
		return nil, err
	}
	txHex, err := c.query.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, errInternal(err)
	}
	return txHex, nil
}

func (c *conn) transactionBroadcast(ctx context.Context, params []json.RawMessage) (any, error) {
	var txHex string
	if err := paramAt(params, 0, &txHex); err != nil {
		return nil, err
	}
	txid, err := c.query.Broadcast(ctx, txHex)
	if err != nil {
		return nil, errInternal(err)
	}
	return txid, nil
}

func (c *conn) transactionGetMerkle(ctx context.Context, params []json.RawMessage) (any, error) {
	var txid string
	var height uint32
	if err := paramAt(params, 0, &txid); err != nil {
		return nil, err
	}
	if err := paramAt(params, 1, &height); err != nil {
		return nil, err
	}
	proof, err := c.query.GetMerkleProof(ctx, txid, height)
	if err != nil {
		return nil, errInternal(err)
	}
	return proof, nil
}

// notify pushes subscription updates triggered by a sync changelog.
func (c *conn) notify(changes []index.Change) {
	var tipChanged bool
	affected := make(map[index.ScriptHash]struct{})
	for _, change := range changes {
		if change.Category == index.CategoryChainTip {
			tipChanged = true
		}
		if change.ScriptHash != "" {
			if sh, err := index.ParseScriptHash(change.ScriptHash); err == nil {
				affected[sh] = struct{}{}
			}
		}
	}

	ctx := context.Background()
	c.subMu.Lock()
	headersSub := c.headersSub
	type pending struct {
		sh   index.ScriptHash
		prev *string
	}
	var updates []pending
	for sh := range affected {
		if prev, ok := c.scriptSubs[sh]; ok {
			updates = append(updates, pending{sh, prev})
		}
	}
	c.subMu.Unlock()

	if tipChanged && headersSub {
		if tip, err := c.query.GetTip(ctx); err == nil {
			if header, err := c.query.GetHeaderHex(ctx, tip.Height); err == nil {
				c.writeNotification("blockchain.headers.subscribe",
					[]any{map[string]any{"height": tip.Height, "hex": header}})
			}
		}
	}

	for _, u := range updates {
		status := statusHash(c.query.GetHistory(u.sh))
		if statusEqual(status, u.prev) {
			continue
		}
		c.subMu.Lock()
		c.scriptSubs[u.sh] = status
		c.subMu.Unlock()
		var statusArg any
		if status != nil {
			statusArg = *status
		}
		c.writeNotification("blockchain.scripthash.subscribe",
			[]any{electrumScriptHashHex(u.sh), statusArg})
	}
}

func (c *conn) writeNotification(method string, params []any) {
	c.writeJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func (c *conn) writeJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("unencodable reply", zap.Error(err))
		return
	}
	payload = append(payload, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.c.Write(payload); err != nil {
		c.close()
	}
}

// statusHash is electrum's scripthash status: sha256 over the concatenated
// "txid:height:" history entries, nil for an empty history.
func statusHash(history []index.HistoryEntry) *string {
	if len(history) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, entry := range history {
		fmt.Fprintf(&sb, "%s:%d:", entry.Txid, int32(entry.Status.Height()))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	status := hex.EncodeToString(sum[:])
	return &status
}

func statusEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func scriptHashParam(params []json.RawMessage) (index.ScriptHash, error) {
	var raw string
	if err := paramAt(params, 0, &raw); err != nil {
		return index.ScriptHash{}, err
	}
	sh, err := parseElectrumScriptHash(raw)
	if err != nil {
		return index.ScriptHash{}, errInvalidParams(err.Error())
	}
	return sh, nil
}

// electrumScriptHashHex encodes the wire form, which is byte-reversed
// relative to the internal sha256 digest.
func electrumScriptHashHex(sh index.ScriptHash) string {
	var rev [32]byte
	for i, b := range sh {
		rev[len(sh)-1-i] = b
	}
	return hex.EncodeToString(rev[:])
}

// parseElectrumScriptHash decodes the wire form, which is byte-reversed
// relative to the internal sha256 digest.
func parseElectrumScriptHash(s string) (index.ScriptHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return index.ScriptHash{}, fmt.Errorf("invalid scripthash %q", s)
	}
	var sh index.ScriptHash
	for i, b := range raw {
		sh[len(raw)-1-i] = b
	}
	return sh, nil
}

func paramAt(params []json.RawMessage, i int, out any) error {
	if i >= len(params) {
		return errInvalidParams(fmt.Sprintf("missing param %d", i))
	}
	if err := json.Unmarshal(params[i], out); err != nil {
		return errInvalidParams(fmt.Sprintf("bad param %d: %v", i, err))
	}
	return nil
}
