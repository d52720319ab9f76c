package gobwt

import (
	"fmt"
	"sync"

	"github.com/bwt-dev/gobwt/config"
)

// The exclusivity gate. An exclusive session refuses to start while any
// other session runs, and blocks new sessions while it is alive.
var (
	gateMu        sync.Mutex
	runningCount  int
	exclusiveHeld bool
)

func acquireGate(wantExclusive bool) error {
	gateMu.Lock()
	defer gateMu.Unlock()
	if exclusiveHeld {
		return newError(ErrorAlreadyRunning, "an exclusive session is already running")
	}
	if wantExclusive && runningCount > 0 {
		return newError(ErrorAlreadyRunning, "cannot start exclusively, other sessions are running")
	}
	runningCount++
	if wantExclusive {
		exclusiveHeld = true
	}
	return nil
}

func releaseGate(wasExclusive bool) {
	gateMu.Lock()
	defer gateMu.Unlock()
	runningCount--
	if wasExclusive {
		exclusiveHeld = false
	}
}

// Start launches a tracker session for the given JSON configuration.
//
// With a nil ready callback, Start blocks until the session is fully
// operational and returns its handle; boot progress is reported through
// notify along the way.
//
// With a non-nil ready callback only the configuration is checked
// synchronously. Start returns a handle immediately, boots in the
// background, and invokes ready(handle) once the session is operational. A
// background boot failure is reported as a terminal "error" notification
// and invalidates the handle.
func Start(jsonConfig string, notify NotifyFunc, ready ReadyFunc) (Handle, error) {
	if notify == nil {
		return 0, newError(ErrorConfiguration, "a notify callback is required")
	}
	cfg, err := config.FromJSON(jsonConfig)
	if err != nil {
		return 0, wrapError(ErrorConfiguration, "unparsable config", err)
	}
	if err := cfg.Validate(); err != nil {
		return 0, wrapError(ErrorConfiguration, "invalid config", err)
	}
	if err := acquireGate(cfg.Exclusive); err != nil {
		return 0, err
	}

	s := newSession(cfg, notify)
	s.emit(categoryBooting, 0, 0, "")

	if ready == nil {
		err := s.boot()
		close(s.bootDone)
		if err != nil {
			s.cancel()
			s.finish()
			releaseGate(cfg.Exclusive)
			return 0, wrapError(ErrorStartup, "boot failed", err)
		}
		handle := sessions.insert(s)
		s.emit(categoryReady, 1, 0, "")
		return handle, nil
	}

	handle := sessions.insert(s)
	go func() {
		err := s.boot()
		close(s.bootDone)
		if err != nil {
			// A concurrent Shutdown may already own this handle; only
			// the remover tears the session down.
			if _, ok := sessions.remove(handle); ok {
				s.emit(categoryError, 0, 0, err.Error())
				s.cancel()
				s.finish()
				releaseGate(cfg.Exclusive)
			}
			return
		}
		s.emit(categoryReady, 1, 0, "")
		ready(handle)
	}()
	return handle, nil
}

// Shutdown stops the session behind the handle. It returns once every
// server, goroutine and callback of the session has quiesced: no notify
// invocation happens after Shutdown returns. Shutting down twice, or
// passing a handle that was never issued, fails with ErrorInvalidHandle.
func Shutdown(handle Handle) error {
	s, ok := sessions.remove(handle)
	if !ok {
		return newError(ErrorInvalidHandle, fmt.Sprintf("no session for handle %#x", uint64(handle)))
	}
	s.shutdown()
	releaseGate(s.cfg.Exclusive)
	return nil
}
