// Package progress carries the boot-time progress events emitted while the
// tracker waits for bitcoind to sync blocks and rescan wallet history, and
// the reporters that surface them to a log, a terminal or a callback.
package progress

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Kind discriminates the progress event variants.
type Kind int

const (
	// KindSync reports block download progress; Tip carries the median
	// time of the current tip.
	KindSync Kind = iota
	// KindScan reports wallet rescan progress; ETA carries the estimated
	// remaining seconds.
	KindScan
	// KindDone marks the end of the boot progress stream.
	KindDone
)

// String returns the notification category tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindSync:
		return "progress:sync"
	case KindScan:
		return "progress:scan"
	case KindDone:
		return "progress:done"
	default:
		return "progress:unknown"
	}
}

// Event is a single progress update. Progress is in [0.0, 1.0].
type Event struct {
	Kind     Kind
	Progress float32
	// Tip is the tip median time for sync events.
	Tip uint64
	// ETA is the estimated remaining seconds for scan events.
	ETA uint64
}

// Detail returns the numeric detail delivered alongside the progress
// fraction: the tip time for sync events, the ETA for scan events.
func (e Event) Detail() uint64 {
	if e.Kind == KindScan {
		return e.ETA
	}
	return e.Tip
}

// Reporter receives progress events. Report is always called from a single
// goroutine; implementations do not need to be safe for concurrent use.
type Reporter interface {
	Report(Event)
	// Done is called once, after the final event.
	Done()
}

// Func adapts a function to the Reporter interface.
type Func func(Event)

func (f Func) Report(e Event) { f(e) }
func (f Func) Done()          {}

// LogReporter logs progress events, mirroring what the daemon prints when
// no terminal bar is attached.
type LogReporter struct {
	Log *zap.Logger
}

func (r *LogReporter) Report(e Event) {
	switch e.Kind {
	case KindSync:
		r.Log.Info("bitcoind syncing up",
			zap.Float32("progress", e.Progress),
			zap.Time("tip", time.Unix(int64(e.Tip), 0)))
	case KindScan:
		r.Log.Info("bitcoind scanning history",
			zap.Float32("progress", e.Progress),
			zap.Duration("eta", time.Duration(e.ETA)*time.Second))
	}
}

func (r *LogReporter) Done() {}

// BarReporter renders a terminal progress bar for the boot sequence.
type BarReporter struct {
	bar  *progressbar.ProgressBar
	kind Kind
}

// NewBarReporter creates a terminal progress bar reporter.
func NewBarReporter() *BarReporter {
	return &BarReporter{kind: -1}
}

func (r *BarReporter) Report(e Event) {
	if e.Kind == KindDone {
		return
	}
	if r.bar == nil || r.kind != e.Kind {
		r.finish()
		r.kind = e.Kind
		r.bar = progressbar.NewOptions(10000,
			progressbar.OptionSetDescription(describe(e)),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionClearOnFinish(),
		)
	}
	r.bar.Describe(describe(e))
	_ = r.bar.Set(int(e.Progress * 10000))
}

func (r *BarReporter) Done() { r.finish() }

func (r *BarReporter) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func describe(e Event) string {
	switch e.Kind {
	case KindSync:
		return fmt.Sprintf("syncing blocks (tip %s)", time.Unix(int64(e.Tip), 0).Format("2006-01-02"))
	case KindScan:
		if e.ETA > 0 {
			return fmt.Sprintf("scanning history (ETA %s)", time.Duration(e.ETA)*time.Second)
		}
		return "scanning history"
	default:
		return ""
	}
}
