// Package bus implements the engine's broadcast primitive: every state
// change and log line fans out to all connected observers.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/glacieros/glacierd/pkg/protocol"
)

// DefaultCapacity is the number of events buffered per subscriber.
const DefaultCapacity = 100

// MetricsRecorder receives delivery statistics. Implemented by
// telemetry.Metrics.
type MetricsRecorder interface {
	RecordEventPublished(eventType string)
	RecordEventDropped(eventType string)
	SetBusSubscribers(count float64)
}

// Bus is a multi-producer, multi-consumer broadcast. Each subscriber owns a
// bounded channel; a subscriber that cannot keep up loses events rather
// than blocking publishers. Delivery is therefore explicitly lossy, and
// drops are counted per subscription and exported through the
// MetricsRecorder.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	metrics  MetricsRecorder
}

// Subscription is one observer's view of the bus. Events published after
// Subscribe returns are delivered on C until Unsubscribe closes it.
type Subscription struct {
	id      uint64
	ch      chan protocol.Event
	dropped atomic.Uint64

	// C receives the subscriber's events.
	C <-chan protocol.Event
}

// Dropped reports how many events this subscriber has missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// New creates a bus. capacity <= 0 selects DefaultCapacity; metrics may be
// nil.
func New(capacity int, metrics MetricsRecorder) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Subscribe registers a new observer. The subscriber receives only events
// published after Subscribe returns.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan protocol.Event, b.capacity)
	sub := &Subscription{id: b.nextID, ch: ch, C: ch}
	b.subs[sub.id] = sub

	if b.metrics != nil {
		b.metrics.SetBusSubscribers(float64(len(b.subs)))
	}
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// once per subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)

	if b.metrics != nil {
		b.metrics.SetBusSubscribers(float64(len(b.subs)))
	}
}

// Publish delivers an event to every current subscriber without blocking.
// A full subscriber buffer drops the event for that subscriber only.
// Publishing with zero subscribers is a no-op.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(ev.Type))
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.RecordEventDropped(string(ev.Type))
			}
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
