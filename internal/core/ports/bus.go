package ports

import "github.com/lcalzada-xor/ztcore/internal/core/domain"

// Subscription is one subscriber's bounded view of the event bus.
type Subscription interface {
	// Events is the receive channel. It is closed by Close.
	Events() <-chan domain.Event
	// Close detaches the subscription from the bus.
	Close()
	// Dropped returns how many events were discarded because this
	// subscriber's queue was full (oldest dropped first).
	Dropped() int64
	// Name identifies the subscriber in metrics and health output.
	Name() string
}

// EventBus is the in-process pub/sub fabric between core components.
// Publish never blocks: when a subscriber's queue is full the oldest
// queued event is dropped and counted.
type EventBus interface {
	Publish(topic domain.Topic, payload interface{})
	Subscribe(name string, topics ...domain.Topic) Subscription
	// DroppedCounts returns per-subscriber drop totals.
	DroppedCounts() map[string]int64
}
