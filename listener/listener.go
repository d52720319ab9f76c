// Package listener accepts sync nudges over a unix socket, typically wired
// to bitcoind's blocknotify/walletnotify hooks.
package listener

import (
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Listener triggers an immediate index sync whenever anything connects to
// its socket. The connection content is irrelevant, connecting is the
// signal.
type Listener struct {
	path    string
	trigger func()
	log     *zap.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// Listen binds the unix socket at path, replacing a stale socket file left
// behind by a previous run.
func Listen(path string, trigger func(), log *zap.Logger) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	l := &Listener{path: path, trigger: trigger, log: log.Named("listener"), ln: ln}
	l.log.Info("sync trigger listening", zap.String("socket", path))
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		conn.Close()
		l.log.Debug("sync trigger received")
		l.trigger()
	}
}

// Close stops the listener and removes the socket file.
func (l *Listener) Close() {
	l.ln.Close()
	l.wg.Wait()
	os.Remove(l.path)
}
