// Package events provides synchronous in-process fan-out of workflow
// events to subscribers such as SSE clients and the log stream.
package events

import (
	"log/slog"
	"sync"

	"github.com/ameliahq/amelia/internal/core"
)

// Subscriber receives every event emitted after it subscribes.
// Callbacks run synchronously on the emitter's goroutine; slow
// subscribers delay delivery to later subscribers, not correctness.
type Subscriber func(ev *core.WorkflowEvent)

// SubscriberID identifies a registered subscriber for removal.
type SubscriberID int64

// Bus fans persisted events out to subscribers in subscription order.
// A subscriber that panics or misbehaves is isolated: the panic is
// recovered and logged, and remaining subscribers still receive the event.
type Bus struct {
	mu     sync.Mutex
	nextID SubscriberID
	subs   []subscription
	logger *slog.Logger
}

type subscription struct {
	id SubscriberID
	fn Subscriber
}

var _ core.EventSink = (*Bus)(nil)

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a callback and returns its ID for Unsubscribe.
func (b *Bus) Subscribe(fn Subscriber) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes a subscriber. Unknown IDs are a no-op.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers an event to every subscriber in subscription order.
// The subscriber list is snapshotted under the lock; callbacks run
// outside it so a subscriber may Subscribe or Unsubscribe re-entrantly
// without deadlocking. Additions made during delivery take effect from
// the next event.
func (b *Bus) Emit(ev *core.WorkflowEvent) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscription, ev *core.WorkflowEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"subscriber_id", int64(sub.id),
				"workflow_id", string(ev.WorkflowID),
				"sequence", ev.Sequence,
				"panic", r)
		}
	}()
	sub.fn(ev)
}
