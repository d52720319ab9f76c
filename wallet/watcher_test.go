package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/config"
)

type importCall struct {
	entries   []json.RawMessage
	hasOption bool
}

// fakeImporter is a bitcoind stub that records importmulti batches and
// reports success for every entry.
func fakeImporter(t *testing.T, calls *[]importCall) *chain.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "importmulti", req.Method)

		var entries []json.RawMessage
		require.NoError(t, json.Unmarshal(req.Params[0], &entries))
		*calls = append(*calls, importCall{entries: entries, hasOption: len(req.Params) > 1})

		results := make([]map[string]bool, len(entries))
		for i := range results {
			results[i] = map[string]bool{"success": true}
		}
		reply := map[string]any{"id": req.ID, "result": results, "error": nil}
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
	t.Cleanup(srv.Close)
	return chain.NewClient(srv.URL, "u", "p", zap.NewNop())
}

func TestWatchImportsInitialWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: testXpub, Rescan: config.RescanNow}}
	watcher, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)

	var calls []importCall
	rpc := fakeImporter(t, &calls)

	imported, err := watcher.Watch(context.Background(), rpc)
	require.NoError(t, err)
	// two chains x the initial import window of 10
	assert.Equal(t, 20, imported)
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].entries, 20)
	// rescan "now" imports skip the wallet rescan
	assert.True(t, calls[0].hasOption)

	// no usage since: nothing more to import, windows are settled
	imported, err = watcher.Watch(context.Background(), rpc)
	require.NoError(t, err)
	assert.Zero(t, imported)
	assert.Len(t, calls, 1)
}

func TestWatchUsesRescanWhenRequested(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: testXpub, Rescan: config.RescanSince{Timestamp: 1600000000}}}
	watcher, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)

	var calls []importCall
	rpc := fakeImporter(t, &calls)

	_, err = watcher.Watch(context.Background(), rpc)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	// a historical rescan must not pass {"rescan": false}
	assert.False(t, calls[0].hasOption)
}

func TestWatchGrowsWindowAfterFunding(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: testXpub, Rescan: config.RescanNow}}
	watcher, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)

	var calls []importCall
	rpc := fakeImporter(t, &calls)

	_, err = watcher.Watch(context.Background(), rpc)
	require.NoError(t, err)

	// an address near the end of the window got funded
	external := watcher.ExportStates()[0].Fingerprint
	watcher.MarkFunded(KeyOrigin{Fingerprint: external, Index: 8})

	imported, err := watcher.Watch(context.Background(), rpc)
	require.NoError(t, err)
	// the initial window of 10 still applies: extends to 8 + 10 = index 18,
	// importing indexes 10..18
	assert.Equal(t, 9, imported)
	assert.True(t, calls[1].hasOption)
}

func TestMarkFundedUnknownFingerprint(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: testXpub}}
	watcher, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		watcher.MarkFunded(KeyOrigin{Fingerprint: "ffffffff", Index: 1})
	})
}

func TestNewWatcherRejectsBadXpub(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: "not-an-xpub"}}
	_, err := NewWatcher(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestWatcherStatesRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Xpubs = []config.XpubEntry{{Xpub: testXpub}}
	watcher, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)

	states := watcher.ExportStates()
	require.Len(t, states, 2)
	states[0].MaxUsedIndex = 7
	states[0].DoneInitialImport = true

	restored, err := NewWatcher(cfg, zap.NewNop())
	require.NoError(t, err)
	restored.RestoreStates(states)

	got := restored.ExportStates()
	assert.Equal(t, int64(7), got[0].MaxUsedIndex)
	assert.True(t, got[0].DoneInitialImport)
}

func TestWatcherEmpty(t *testing.T) {
	watcher, err := NewWatcher(testConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.True(t, watcher.Empty())
}
