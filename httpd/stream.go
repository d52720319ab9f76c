package httpd

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/bwt-dev/gobwt/index"
)

// sseClient receives pre-marshaled change events, optionally filtered to a
// single scripthash.
type sseClient struct {
	events chan []byte
	filter string // internal scripthash hex, empty for all
}

type sseBroker struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	closed  bool
}

func newSSEBroker() *sseBroker {
	return &sseBroker{clients: make(map[*sseClient]struct{})}
}

func (b *sseBroker) subscribe(filter string) *sseClient {
	client := &sseClient{events: make(chan []byte, 64), filter: filter}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(client.events)
		return client
	}
	b.clients[client] = struct{}{}
	return client
}

func (b *sseBroker) unsubscribe(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.events)
	}
}

// publish delivers a change to matching clients. Slow clients are skipped
// rather than blocking the sync loop.
func (b *sseBroker) publish(change index.Change, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		if client.filter != "" && change.ScriptHash != client.filter &&
			change.Category != index.CategoryChainTip && change.Category != index.CategoryReorg {
			continue
		}
		select {
		case client.events <- payload:
		default:
		}
	}
}

func (b *sseBroker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for client := range b.clients {
		delete(b.clients, client)
		close(client.events)
	}
}

// handleStream serves the SSE change feed. An optional ?scripthash= query
// restricts it to changes affecting one scripthash (chain events are always
// included).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := ""
	if raw := r.URL.Query().Get("scripthash"); raw != "" {
		sh, err := index.ParseScriptHash(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = sh.String()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := s.sse.subscribe(filter)
	defer s.sse.unsubscribe(client)

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
