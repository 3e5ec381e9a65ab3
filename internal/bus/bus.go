// Package bus provides the in-process pub/sub fabric and the periodic
// task scheduler that wire the policy core's components together.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// DefaultQueueSize bounds each subscriber queue unless configured otherwise.
const DefaultQueueSize = 1024

// Bus is a topic-based pub/sub hub with bounded per-subscriber queues.
// Publish never blocks: a full subscriber queue drops its oldest event.
type Bus struct {
	mu        sync.RWMutex
	subs      map[*subscription]struct{}
	queueSize int
	closed    bool
}

// New creates a bus. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[*subscription]struct{}),
		queueSize: queueSize,
	}
}

var _ ports.EventBus = (*Bus)(nil)

type subscription struct {
	name    string
	topics  map[domain.Topic]struct{}
	ch      chan domain.Event
	dropped atomic.Int64
	bus     *Bus
	once    sync.Once
}

func (s *subscription) Events() <-chan domain.Event { return s.ch }
func (s *subscription) Dropped() int64              { return s.dropped.Load() }
func (s *subscription) Name() string                { return s.name }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a named subscriber for the given topics. Passing no
// topics subscribes to everything.
func (b *Bus) Subscribe(name string, topics ...domain.Topic) ports.Subscription {
	sub := &subscription{
		name:   name,
		topics: make(map[domain.Topic]struct{}, len(topics)),
		ch:     make(chan domain.Event, b.queueSize),
		bus:    b,
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// Late subscribers on a closed bus get a closed channel.
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the payload to every matching subscriber without
// blocking the caller.
func (b *Bus) Publish(topic domain.Topic, payload interface{}) {
	ev := domain.Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	telemetry.EventsPublished.WithLabelValues(string(topic)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if len(sub.topics) > 0 {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		b.deliver(sub, ev)
	}
}

// deliver enqueues with drop-oldest semantics. The second send can still
// lose a race against a concurrent publisher; the event is then counted
// as dropped rather than blocking.
func (b *Bus) deliver(sub *subscription, ev domain.Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		telemetry.EventsDropped.WithLabelValues(sub.name).Inc()
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
		telemetry.EventsDropped.WithLabelValues(sub.name).Inc()
	}
}

// DroppedCounts returns per-subscriber totals of discarded events.
func (b *Bus) DroppedCounts() map[string]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int64, len(b.subs))
	for sub := range b.subs {
		out[sub.name] = sub.dropped.Load()
	}
	return out
}

// Close detaches and closes every subscription. Publishing afterwards is
// a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	slog.Info("Event bus closed", "subscribers", len(subs))
}
