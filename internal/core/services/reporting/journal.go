package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Journal defaults.
const (
	DefaultJournalCapacity  = 512
	DefaultJournalRetention = 24 * time.Hour
)

// Journal retains recently fired alerts so the report and dashboard can
// look back over a window. Alerts only exist as bus events; the journal
// is their sole in-memory history. Bounded both by count and by age,
// oldest evicted first.
type Journal struct {
	mu        sync.Mutex
	alerts    []domain.Alert
	capacity  int
	retention time.Duration
	clock     clockwork.Clock
}

// NewJournal creates an alert journal. Non-positive capacity or
// retention select the defaults.
func NewJournal(capacity int, retention time.Duration, clock clockwork.Clock) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	if retention <= 0 {
		retention = DefaultJournalRetention
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Journal{
		capacity:  capacity,
		retention: retention,
		clock:     clock,
	}
}

// Record appends one alert, evicting entries past retention or over
// capacity.
func (j *Journal) Record(a domain.Alert) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.alerts = append(j.alerts, a)
	j.prune()
}

// prune drops aged and excess entries. Caller holds the lock.
func (j *Journal) prune() {
	cutoff := j.clock.Now().Add(-j.retention)
	keep := 0
	for keep < len(j.alerts) && j.alerts[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		j.alerts = append(j.alerts[:0], j.alerts[keep:]...)
	}
	if excess := len(j.alerts) - j.capacity; excess > 0 {
		j.alerts = append(j.alerts[:0], j.alerts[excess:]...)
	}
}

// Recent returns the retained alerts at or after since, oldest first.
func (j *Journal) Recent(since time.Time) []domain.Alert {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.Alert, 0, len(j.alerts))
	for _, a := range j.alerts {
		if a.Timestamp.Before(since) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Run consumes alert events from the subscription until the context is
// cancelled or the channel closes.
func (j *Journal) Run(ctx context.Context, sub ports.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if a, ok := ev.Payload.(domain.Alert); ok {
				j.Record(a)
			}
		}
	}
}
