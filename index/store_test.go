package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/gobwt/wallet"
)

var (
	shA = NewScriptHash([]byte("script-a"))
	shB = NewScriptHash([]byte("script-b"))
)

func testStore() *MemoryStore {
	s := NewMemoryStore()
	s.TrackScriptHash(shA, "addr-a", wallet.KeyOrigin{Fingerprint: "aa", Index: 0})
	s.TrackScriptHash(shB, "addr-b", wallet.KeyOrigin{Fingerprint: "aa", Index: 1})
	return s
}

func TestTrackScriptHash(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.TrackScriptHash(shA, "addr-a", wallet.KeyOrigin{}))
	assert.False(t, s.TrackScriptHash(shA, "addr-a", wallet.KeyOrigin{}))
	assert.True(t, s.HasScriptHash(shA))
	assert.False(t, s.HasScriptHash(shB))

	info, ok := s.GetScriptInfo(shA)
	require.True(t, ok)
	assert.Equal(t, "addr-a", info.Address)
}

func TestIndexTxStatusChanges(t *testing.T) {
	s := testStore()

	assert.True(t, s.IndexTx("tx1", StatusUnconfirmed, 0))
	assert.False(t, s.IndexTx("tx1", StatusUnconfirmed, 0))
	assert.True(t, s.IndexTx("tx1", TxStatus(100), 0))

	status, ok := s.GetTxStatus("tx1")
	require.True(t, ok)
	assert.Equal(t, TxStatus(100), status)
}

func TestStatusChangePropagatesToHistory(t *testing.T) {
	s := testStore()
	s.IndexTx("tx1", StatusUnconfirmed, 0)
	s.IndexFunding("tx1", 0, shA)

	history := s.GetHistory(shA)
	require.Len(t, history, 1)
	assert.Equal(t, StatusUnconfirmed, history[0].Status)

	s.IndexTx("tx1", TxStatus(100), 0)
	history = s.GetHistory(shA)
	require.Len(t, history, 1)
	assert.Equal(t, TxStatus(100), history[0].Status)
}

func TestIndexFundingAndSpending(t *testing.T) {
	s := testStore()
	s.IndexTx("tx1", TxStatus(100), 0)

	newTxo, newHistory := s.IndexFunding("tx1", 1, shA)
	assert.True(t, newTxo)
	assert.True(t, newHistory)
	newTxo, newHistory = s.IndexFunding("tx1", 1, shA)
	assert.False(t, newTxo)
	assert.False(t, newHistory)

	sh, ok := s.GetFundedScriptHash(OutPoint{Txid: "tx1", Vout: 1})
	require.True(t, ok)
	assert.Equal(t, shA, sh)
	_, ok = s.GetFundedScriptHash(OutPoint{Txid: "tx1", Vout: 2})
	assert.False(t, ok)

	s.IndexTx("tx2", StatusUnconfirmed, 500)
	newSpend, newHistory := s.IndexSpending("tx2", OutPoint{Txid: "tx1", Vout: 1}, shA)
	assert.True(t, newSpend)
	assert.True(t, newHistory)

	history := s.GetHistory(shA)
	require.Len(t, history, 2)
	assert.Equal(t, "tx1", history[0].Txid) // confirmed sorts first
	assert.Equal(t, "tx2", history[1].Txid)
	assert.Equal(t, uint64(500), s.GetTxFee("tx2"))
}

func TestHistoryIgnoresUntrackedScripts(t *testing.T) {
	s := NewMemoryStore()
	s.IndexTx("tx1", TxStatus(10), 0)
	_, newHistory := s.IndexFunding("tx1", 0, shA)
	assert.False(t, newHistory)
	assert.Empty(t, s.GetHistory(shA))
}

func TestPurgeTx(t *testing.T) {
	s := testStore()
	s.IndexTx("tx1", StatusUnconfirmed, 0)
	s.IndexFunding("tx1", 0, shA)
	s.IndexFunding("tx1", 1, shB)

	assert.True(t, s.PurgeTx("tx1"))
	assert.Empty(t, s.GetHistory(shA))
	assert.Empty(t, s.GetHistory(shB))
	_, ok := s.GetTxStatus("tx1")
	assert.False(t, ok)
	_, ok = s.GetFundedScriptHash(OutPoint{Txid: "tx1", Vout: 0})
	assert.False(t, ok)

	assert.False(t, s.PurgeTx("tx1"))
}

func TestHistoryOrder(t *testing.T) {
	s := testStore()
	s.IndexTx("mem1", StatusUnconfirmed, 0)
	s.IndexFunding("mem1", 0, shA)
	s.IndexTx("conf2", TxStatus(200), 0)
	s.IndexFunding("conf2", 0, shA)
	s.IndexTx("conf1", TxStatus(100), 0)
	s.IndexFunding("conf1", 0, shA)

	history := s.GetHistory(shA)
	require.Len(t, history, 3)
	assert.Equal(t, "conf1", history[0].Txid)
	assert.Equal(t, "conf2", history[1].Txid)
	assert.Equal(t, "mem1", history[2].Txid)
}

func TestScriptsListing(t *testing.T) {
	s := testStore()
	scripts := s.Scripts()
	require.Len(t, scripts, 2)
	assert.Equal(t, "addr-a", scripts[0].Address)
	assert.Equal(t, "addr-b", scripts[1].Address)
}
