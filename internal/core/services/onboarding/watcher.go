package onboarding

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// finalizer is the slice of the coordinator the watcher needs.
type finalizer interface {
	Finalize(ctx context.Context, deviceID string) error
}

// Watcher closes profiling windows whose time has elapsed. It re-reads
// the persisted profiling start on every sweep, so windows survive a
// restart: after a crash the accumulator session is gone and the device
// finalizes with a sparse baseline, but it never stays stuck in
// profiling. Meant to run from the scheduler every 30 seconds.
type Watcher struct {
	store   ports.Store
	control finalizer
	clock   clockwork.Clock
	window  time.Duration
}

// NewWatcher creates the finalization watcher.
func NewWatcher(store ports.Store, control finalizer, window time.Duration, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{store: store, control: control, clock: clock, window: window}
}

// Sweep finalizes every profiling device whose window has elapsed.
func (w *Watcher) Sweep(ctx context.Context) error {
	devices, err := w.store.ListDevicesByStatus(ctx, domain.StatusProfiling)
	if err != nil {
		return err
	}

	now := w.clock.Now()
	for i := range devices {
		dev := &devices[i]
		if dev.ProfilingStartedAt == nil {
			// Should not happen: profiling is only entered through
			// Approve, which stamps the start. Finalize rather than
			// leave the device stuck.
			slog.Warn("profiling device without start timestamp", "device", dev.DeviceID)
		} else if now.Sub(*dev.ProfilingStartedAt) < w.window {
			continue
		}

		if err := w.control.Finalize(ctx, dev.DeviceID); err != nil {
			// Concurrent manual finalization loses the race benignly.
			if domain.IsConflict(err) {
				continue
			}
			slog.Error("finalization failed", "device", dev.DeviceID, "error", err)
		}
	}
	return nil
}
