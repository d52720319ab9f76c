// Package chain implements the minimal Bitcoin Core JSON-RPC client used by
// the indexer, the wallet watcher and the query layer.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to a single bitcoind instance over HTTP.
type Client struct {
	url     string
	user    string
	pass    string
	httpc   *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	nextID  atomic.Uint64
}

// Option tweaks client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithRateLimit caps outgoing request rate. bitcoind serializes RPC work on
// a small thread pool, so an over-eager poller can starve the node.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a client for the given endpoint with basic auth.
func NewClient(url, user, pass string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:     url,
		user:    user,
		pass:    pass,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(64), 64),
		log:     log.Named("rpc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RPCError is a bitcoind-side error, carrying the node's error code.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("bitcoind rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode extracts the bitcoind error code from err, or 0 when err is not
// an RPC error.
func ErrorCode(err error) int {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     uint64          `json:"id"`
}

// Call issues a single RPC and unmarshals the result into out (which may be
// nil to discard the result).
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("rpc call", zap.String("method", method))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", method, err)
	}

	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: http status %s", method, resp.Status)
		}
		return fmt.Errorf("%s: invalid response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return nil
}
