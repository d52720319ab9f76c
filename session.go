package gobwt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/config"
	"github.com/bwt-dev/gobwt/progress"
)

// NotifyFunc receives session notifications. Categories are "booting",
// "progress:sync", "progress:scan", "ready:electrum", "ready:http",
// "ready" and "error"; progress is in [0.0, 1.0] for progress categories,
// detailN and detailS carry category-specific payloads (tip time, scan ETA,
// server address, error message).
//
// Invocations are strictly ordered and stop before Shutdown returns. The
// callback must not call Shutdown itself.
type NotifyFunc func(category string, progress float32, detailN uint32, detailS string)

// ReadyFunc receives the session handle once an asynchronously started
// session is fully operational.
type ReadyFunc func(handle Handle)

const (
	categoryBooting       = "booting"
	categoryReadyElectrum = "ready:electrum"
	categoryReadyHTTP     = "ready:http"
	categoryReady         = "ready"
	categoryError         = "error"
)

type event struct {
	category string
	progress float32
	detailN  uint32
	detailS  string
}

// session owns one running tracker instance and the delivery of its
// notifications. All callbacks are invoked from a single goroutine, which
// is what provides the ordering guarantee.
type session struct {
	cfg    *config.Config
	log    *zap.Logger
	notify NotifyFunc

	events  chan event
	drained chan struct{}
	emitMu  sync.Mutex
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	bootDone chan struct{}
	app      *App

	finishOnce sync.Once
}

func newSession(cfg *config.Config, notify NotifyFunc) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:      cfg,
		log:      cfg.BuildLogger(),
		notify:   notify,
		events:   make(chan event, 256),
		drained:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		bootDone: make(chan struct{}),
	}
	go s.deliver()
	return s
}

func (s *session) deliver() {
	defer close(s.drained)
	for ev := range s.events {
		s.notify(ev.category, ev.progress, ev.detailN, ev.detailS)
	}
}

// emit queues a notification. Events emitted after finish are dropped.
func (s *session) emit(category string, progressVal float32, detailN uint32, detailS string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	s.events <- event{category: category, progress: progressVal, detailN: detailN, detailS: detailS}
}

// Report forwards boot progress to the notify callback.
func (s *session) Report(e progress.Event) {
	if e.Kind == progress.KindDone {
		return
	}
	s.emit(e.Kind.String(), e.Progress, uint32(e.Detail()), "")
}

func (s *session) Done() {}

// boot brings the tracker up. On success the app's sync loop is running.
func (s *session) boot() error {
	app, err := newApp(s.ctx, s.cfg, s.log, s)
	if err != nil {
		return err
	}
	s.app = app
	if addr := app.ElectrumAddr(); addr != "" {
		s.emit(categoryReadyElectrum, 0, 0, addr)
	}
	if addr := app.HTTPAddr(); addr != "" {
		s.emit(categoryReadyHTTP, 0, 0, addr)
	}
	app.Start(s.ctx)
	return nil
}

// shutdown tears the session down and blocks until every resource is
// released and the last queued notification was delivered.
func (s *session) shutdown() {
	s.cancel()
	<-s.bootDone
	if s.app != nil {
		s.app.Shutdown()
	}
	s.finish()
	s.log.Sync()
}

// finish stops accepting notifications and waits for the delivery
// goroutine to drain.
func (s *session) finish() {
	s.finishOnce.Do(func() {
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
		<-s.drained
	})
}
