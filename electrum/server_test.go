package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/index"
	"github.com/bwt-dev/gobwt/query"
)

// mockBackend serves canned query results.
type mockBackend struct {
	tip     index.BlockID
	headers map[uint32]string
	history map[index.ScriptHash][]index.HistoryEntry
	fees    map[string]uint64
	feeRate *float64
	utxos   []index.Utxo
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		tip:     index.BlockID{Height: 100, Hash: "tiphash"},
		headers: map[uint32]string{100: "deadbeef"},
		history: make(map[index.ScriptHash][]index.HistoryEntry),
		fees:    make(map[string]uint64),
	}
}

func (m *mockBackend) GetTip(context.Context) (index.BlockID, error) { return m.tip, nil }

func (m *mockBackend) GetHeaderHex(_ context.Context, height uint32) (string, error) {
	header, ok := m.headers[height]
	if !ok {
		return "", errors.New("no header")
	}
	return header, nil
}

func (m *mockBackend) GetHeadersHex(_ context.Context, start uint32, count int) ([]string, error) {
	var out []string
	for height := start; height <= m.tip.Height && len(out) < count; height++ {
		header, err := m.GetHeaderHex(context.Background(), height)
		if err != nil {
			return nil, err
		}
		out = append(out, header)
	}
	return out, nil
}

func (m *mockBackend) EstimateFee(context.Context, int) (*float64, error) { return m.feeRate, nil }
func (m *mockBackend) RelayFee(context.Context) (float64, error)          { return 0.00001, nil }

func (m *mockBackend) GetHistory(sh index.ScriptHash) []index.HistoryEntry { return m.history[sh] }
func (m *mockBackend) GetTxFee(txid string) uint64                         { return m.fees[txid] }

func (m *mockBackend) GetBalance(context.Context, index.ScriptHash) (query.Balance, error) {
	return query.Balance{Confirmed: 5000, Unconfirmed: 100}, nil
}

func (m *mockBackend) ListUnspent(context.Context, index.ScriptHash, int) ([]index.Utxo, error) {
	return m.utxos, nil
}

func (m *mockBackend) GetRawTransaction(context.Context, string) (string, error) {
	return "0200beef", nil
}

func (m *mockBackend) Broadcast(_ context.Context, txHex string) (string, error) {
	if txHex == "bad" {
		return "", errors.New("dust output")
	}
	return "broadcast-txid", nil
}

func (m *mockBackend) GetMerkleProof(context.Context, string, uint32) (*query.MerkleProof, error) {
	return &query.MerkleProof{Merkle: []string{"aa"}, BlockHeight: 90, Pos: 1}, nil
}

func (m *mockBackend) FeeHistogram(context.Context) ([][2]float64, error) {
	return [][2]float64{{2, 60000}}, nil
}

// client is a line-oriented test client against a running server.
type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

func startServer(t *testing.T, backend Backend) (*Server, *client) {
	srv := NewServer(backend, zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Shutdown)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return srv, &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) send(method string, params ...any) {
	c.nextID++
	req := map[string]any{"jsonrpc": "2.0", "id": c.nextID, "method": method, "params": params}
	payload, err := json.Marshal(req)
	require.NoError(c.t, err)
	_, err = c.conn.Write(append(payload, '\n'))
	require.NoError(c.t, err)
}

func (c *client) read() map[string]json.RawMessage {
	line, err := c.reader.ReadBytes('\n')
	require.NoError(c.t, err)
	var reply map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(line, &reply))
	return reply
}

func (c *client) call(method string, params ...any) json.RawMessage {
	c.send(method, params...)
	reply := c.read()
	require.NotContains(c.t, reply, "error", "%s: %s", method, reply["error"])
	return reply["result"]
}

func TestServerVersionAndBanner(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	var version []string
	require.NoError(t, json.Unmarshal(cl.call("server.version", "electrum/4.4.5", "1.4"), &version))
	assert.Equal(t, []string{serverVersion, ProtocolVersion}, version)

	var banner string
	require.NoError(t, json.Unmarshal(cl.call("server.banner"), &banner))
	assert.NotEmpty(t, banner)

	assert.Equal(t, "null", string(cl.call("server.ping")))
}

func TestUnknownMethod(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	cl.send("blockchain.nope")
	reply := cl.read()
	var rpcErr rpcError
	require.NoError(t, json.Unmarshal(reply["error"], &rpcErr))
	assert.Equal(t, codeMethodNotFound, rpcErr.Code)

	// the connection survives the error
	assert.Equal(t, "null", string(cl.call("server.ping")))
}

func TestHeadersSubscribe(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	var result struct {
		Height uint32 `json:"height"`
		Hex    string `json:"hex"`
	}
	require.NoError(t, json.Unmarshal(cl.call("blockchain.headers.subscribe"), &result))
	assert.Equal(t, uint32(100), result.Height)
	assert.Equal(t, "deadbeef", result.Hex)
}

func TestEstimateFee(t *testing.T) {
	backend := newMockBackend()
	_, cl := startServer(t, backend)

	// no estimate available
	assert.Equal(t, "-1", string(cl.call("blockchain.estimatefee", 6)))

	rate := 0.0001
	backend.feeRate = &rate
	assert.Equal(t, "0.0001", string(cl.call("blockchain.estimatefee", 6)))
}

func TestScriptHashSubscribeAndHistory(t *testing.T) {
	backend := newMockBackend()
	sh := index.NewScriptHash([]byte("spk"))
	backend.history[sh] = []index.HistoryEntry{
		{Txid: "conf", Status: index.TxStatus(90)},
		{Txid: "mem", Status: index.StatusUnconfirmed},
	}
	backend.fees["mem"] = 1234
	_, cl := startServer(t, backend)

	wireHash := electrumScriptHashHex(sh)

	var status string
	require.NoError(t, json.Unmarshal(cl.call("blockchain.scripthash.subscribe", wireHash), &status))
	assert.Equal(t, *statusHash(backend.history[sh]), status)

	var history []struct {
		TxHash string  `json:"tx_hash"`
		Height int32   `json:"height"`
		Fee    *uint64 `json:"fee"`
	}
	require.NoError(t, json.Unmarshal(cl.call("blockchain.scripthash.get_history", wireHash), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "conf", history[0].TxHash)
	assert.Equal(t, int32(90), history[0].Height)
	assert.Nil(t, history[0].Fee)
	assert.Equal(t, int32(0), history[1].Height)
	require.NotNil(t, history[1].Fee)
	assert.Equal(t, uint64(1234), *history[1].Fee)

	assert.Equal(t, "true", string(cl.call("blockchain.scripthash.unsubscribe", wireHash)))
}

func TestScriptHashSubscribeEmptyHistory(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	wireHash := electrumScriptHashHex(index.NewScriptHash([]byte("unused")))
	assert.Equal(t, "null", string(cl.call("blockchain.scripthash.subscribe", wireHash)))
}

func TestScriptHashRejectsBadParam(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	cl.send("blockchain.scripthash.subscribe", "nothex")
	reply := cl.read()
	var rpcErr rpcError
	require.NoError(t, json.Unmarshal(reply["error"], &rpcErr))
	assert.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestListUnspent(t *testing.T) {
	backend := newMockBackend()
	backend.utxos = []index.Utxo{
		{Txid: "txc", Vout: 1, Value: 5000, Status: index.TxStatus(90), Height: 90},
	}
	_, cl := startServer(t, backend)

	wireHash := electrumScriptHashHex(index.NewScriptHash([]byte("spk")))
	var utxos []struct {
		TxHash string `json:"tx_hash"`
		TxPos  uint32 `json:"tx_pos"`
		Height uint32 `json:"height"`
		Value  uint64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(cl.call("blockchain.scripthash.listunspent", wireHash), &utxos))
	require.Len(t, utxos, 1)
	assert.Equal(t, "txc", utxos[0].TxHash)
	assert.Equal(t, uint32(1), utxos[0].TxPos)
	assert.Equal(t, uint64(5000), utxos[0].Value)
}

func TestTransactionBroadcast(t *testing.T) {
	_, cl := startServer(t, newMockBackend())

	var txid string
	require.NoError(t, json.Unmarshal(cl.call("blockchain.transaction.broadcast", "0200beef"), &txid))
	assert.Equal(t, "broadcast-txid", txid)

	cl.send("blockchain.transaction.broadcast", "bad")
	reply := cl.read()
	var rpcErr rpcError
	require.NoError(t, json.Unmarshal(reply["error"], &rpcErr))
	assert.Equal(t, codeInternal, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "dust")
}

func TestNotifyPushesSubscriptions(t *testing.T) {
	backend := newMockBackend()
	sh := index.NewScriptHash([]byte("spk"))
	srv, cl := startServer(t, backend)

	wireHash := electrumScriptHashHex(sh)
	cl.call("blockchain.headers.subscribe")
	assert.Equal(t, "null", string(cl.call("blockchain.scripthash.subscribe", wireHash)))

	// a new block confirms a tx of the subscribed script
	backend.tip = index.BlockID{Height: 101, Hash: "newtip"}
	backend.headers[101] = "cafebabe"
	backend.history[sh] = []index.HistoryEntry{{Txid: "conf", Status: index.TxStatus(101)}}

	srv.Notify([]index.Change{
		{Category: index.CategoryChainTip, BlockHeight: 101, BlockHash: "newtip"},
		{Category: index.CategoryHistory, ScriptHash: sh.String(), Txid: "conf"},
	})

	header := cl.read()
	var method string
	require.NoError(t, json.Unmarshal(header["method"], &method))
	assert.Equal(t, "blockchain.headers.subscribe", method)
	var headerParams []struct {
		Height uint32 `json:"height"`
		Hex    string `json:"hex"`
	}
	require.NoError(t, json.Unmarshal(header["params"], &headerParams))
	require.Len(t, headerParams, 1)
	assert.Equal(t, uint32(101), headerParams[0].Height)
	assert.Equal(t, "cafebabe", headerParams[0].Hex)

	script := cl.read()
	require.NoError(t, json.Unmarshal(script["method"], &method))
	assert.Equal(t, "blockchain.scripthash.subscribe", method)
	var scriptParams []json.RawMessage
	require.NoError(t, json.Unmarshal(script["params"], &scriptParams))
	require.Len(t, scriptParams, 2)
	var gotHash, gotStatus string
	require.NoError(t, json.Unmarshal(scriptParams[0], &gotHash))
	require.NoError(t, json.Unmarshal(scriptParams[1], &gotStatus))
	assert.Equal(t, wireHash, gotHash)
	assert.Equal(t, *statusHash(backend.history[sh]), gotStatus)

	// an unchanged status is not pushed again
	srv.Notify([]index.Change{
		{Category: index.CategoryHistory, ScriptHash: sh.String(), Txid: "conf"},
	})
	assert.Equal(t, "null", string(cl.call("server.ping")))
}

func TestStatusHash(t *testing.T) {
	assert.Nil(t, statusHash(nil))

	a := statusHash([]index.HistoryEntry{{Txid: "tx1", Status: index.TxStatus(90)}})
	b := statusHash([]index.HistoryEntry{{Txid: "tx1", Status: index.TxStatus(90)}})
	c := statusHash([]index.HistoryEntry{{Txid: "tx1", Status: index.StatusUnconfirmed}})
	require.NotNil(t, a)
	assert.Equal(t, *a, *b)
	assert.NotEqual(t, *a, *c)
}

func TestElectrumScriptHashRoundTrip(t *testing.T) {
	sh := index.NewScriptHash([]byte("spk"))
	wire := electrumScriptHashHex(sh)
	assert.NotEqual(t, sh.String(), wire)

	parsed, err := parseElectrumScriptHash(wire)
	require.NoError(t, err)
	assert.Equal(t, sh, parsed)

	_, err = parseElectrumScriptHash("abcd")
	require.Error(t, err)
}

func TestShutdownDropsConnections(t *testing.T) {
	srv, cl := startServer(t, newMockBackend())
	cl.call("server.ping")

	srv.Shutdown()
	_, err := cl.reader.ReadBytes('\n')
	require.Error(t, err)
}
