// Package webhook POSTs index changes to user-configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/index"
)

const (
	queueSize      = 256
	requestTimeout = 10 * time.Second
	maxRetryTime   = 2 * time.Minute
)

// Notifier delivers changes to the configured urls from a single worker
// goroutine, retrying failed posts with exponential backoff.
type Notifier struct {
	urls  []string
	httpc *http.Client
	log   *zap.Logger

	queue  chan []index.Change
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(urls []string, log *zap.Logger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		urls:   urls,
		httpc:  &http.Client{Timeout: requestTimeout},
		log:    log.Named("webhook"),
		queue:  make(chan []index.Change, queueSize),
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.worker(ctx)
	return n
}

// Notify queues a changelog for delivery. Never blocks the sync loop; when
// the queue is full the changelog is dropped with a warning.
func (n *Notifier) Notify(changes []index.Change) {
	if len(changes) == 0 {
		return
	}
	select {
	case n.queue <- changes:
	default:
		n.log.Warn("webhook queue full, dropping changelog", zap.Int("changes", len(changes)))
	}
}

// Shutdown stops the worker after the current delivery attempt and waits
// for it to exit. Queued changelogs are discarded.
func (n *Notifier) Shutdown() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case changes := <-n.queue:
			for _, change := range changes {
				n.deliver(ctx, change)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, change index.Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	for _, url := range n.urls {
		policy := backoff.WithContext(newPolicy(), ctx)
		err := backoff.Retry(func() error {
			return n.post(ctx, url, payload)
		}, policy)
		if err != nil && ctx.Err() == nil {
			n.log.Warn("webhook delivery failed",
				zap.String("url", url),
				zap.String("category", change.Category),
				zap.Error(err))
		}
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func newPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = maxRetryTime
	return policy
}
