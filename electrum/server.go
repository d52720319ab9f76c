// Package electrum serves the Electrum wallet protocol (version 1.4) on top
// of the query layer, letting stock Electrum wallets connect straight to the
// tracker.
package electrum

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/index"
)

const (
	// ProtocolVersion is the electrum protocol version spoken.
	ProtocolVersion = "1.4"
	serverVersion   = "gobwt 0.1.0"
	serverBanner    = "Welcome to gobwt, a personal electrum server backed by Bitcoin Core"
)

// Server accepts electrum wallet connections and pushes subscription
// updates as the index changes.
type Server struct {
	query Backend
	log   *zap.Logger

	ln     net.Listener
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewServer builds an electrum server over the query layer.
func NewServer(query Backend, log *zap.Logger) *Server {
	return &Server{
		query: query,
		log:   log.Named("electrum"),
		conns: make(map[*conn]struct{}),
	}
}

// Listen binds the address and starts accepting connections.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.log.Info("electrum server listening", zap.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address, or empty before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		netConn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		c := newConn(netConn, s.query, s.log)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			netConn.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve(ctx)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Notify fans index changes out to all subscribed connections.
func (s *Server) Notify(changes []index.Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.notify(changes)
	}
}

// Shutdown stops accepting, drops all connections and waits for the
// connection goroutines to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		s.ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	s.log.Info("electrum server stopped")
}
