package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/index"
)

// receiver records webhook posts, optionally failing the first n of them.
type receiver struct {
	mu        sync.Mutex
	posts     []index.Change
	failFirst int
	received  chan struct{}
}

func newReceiver(failFirst int) *receiver {
	return &receiver{failFirst: failFirst, received: make(chan struct{}, 16)}
}

func (rc *receiver) start(t *testing.T) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		if rc.failFirst > 0 {
			rc.failFirst--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var change index.Change
		require.NoError(t, json.NewDecoder(r.Body).Decode(&change))
		rc.posts = append(rc.posts, change)
		rc.received <- struct{}{}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func (rc *receiver) changes() []index.Change {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]index.Change(nil), rc.posts...)
}

func waitReceived(t *testing.T, rc *receiver, n int) {
	for i := 0; i < n; i++ {
		select {
		case <-rc.received:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for post %d of %d", i+1, n)
		}
	}
}

func TestNotifierDeliversPerChange(t *testing.T) {
	rc := newReceiver(0)
	n := NewNotifier([]string{rc.start(t)}, zap.NewNop())
	defer n.Shutdown()

	n.Notify([]index.Change{
		{Category: index.CategoryChainTip, BlockHeight: 100, BlockHash: "tiphash"},
		{Category: index.CategoryTransaction, Txid: "tx1", BlockHeight: 100},
	})
	waitReceived(t, rc, 2)

	posts := rc.changes()
	require.Len(t, posts, 2)
	assert.Equal(t, index.CategoryChainTip, posts[0].Category)
	assert.Equal(t, "tx1", posts[1].Txid)
}

func TestNotifierFansOutToAllURLs(t *testing.T) {
	rc1 := newReceiver(0)
	rc2 := newReceiver(0)
	n := NewNotifier([]string{rc1.start(t), rc2.start(t)}, zap.NewNop())
	defer n.Shutdown()

	n.Notify([]index.Change{{Category: index.CategoryChainTip, BlockHeight: 100}})
	waitReceived(t, rc1, 1)
	waitReceived(t, rc2, 1)

	assert.Len(t, rc1.changes(), 1)
	assert.Len(t, rc2.changes(), 1)
}

func TestNotifierRetriesTransientFailure(t *testing.T) {
	rc := newReceiver(1)
	n := NewNotifier([]string{rc.start(t)}, zap.NewNop())
	defer n.Shutdown()

	n.Notify([]index.Change{{Category: index.CategoryChainTip, BlockHeight: 100}})
	waitReceived(t, rc, 1)

	require.Len(t, rc.changes(), 1)
	assert.Equal(t, index.CategoryChainTip, rc.changes()[0].Category)
}

func TestNotifyEmptyChangelogIsNoop(t *testing.T) {
	rc := newReceiver(0)
	n := NewNotifier([]string{rc.start(t)}, zap.NewNop())
	defer n.Shutdown()

	n.Notify(nil)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rc.changes())
}

func TestShutdownStopsWorker(t *testing.T) {
	n := NewNotifier([]string{"http://127.0.0.1:1/hook"}, zap.NewNop())
	n.Shutdown()

	done := make(chan struct{})
	go func() {
		n.Shutdown() // second call is safe
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return")
	}
}
