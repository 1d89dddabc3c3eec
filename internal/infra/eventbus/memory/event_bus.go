// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for testing and
// single-process development runs where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/scanforge/internal/domain/events"
)

var _ events.EventBus = (*EventBus)(nil)

// subscription pairs a handler with the identity used to remove it; removal
// by identity stays correct no matter how many earlier subscribers have
// already been dropped.
type subscription struct {
	id uint64
	fn events.HandlerFunc
}

// EventBus dispatches envelopes synchronously to handlers registered for
// their event type. Handlers are copied before invocation so publishing never
// runs under the lock.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]subscription
	nextID   uint64
	closed   bool
}

// NewEventBus creates an empty in-memory event bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[events.EventType][]subscription)}
}

// Publish delivers the envelope to every handler subscribed to its type,
// stopping at the first handler error.
func (b *EventBus) Publish(ctx context.Context, evt events.EventEnvelope, _ ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	subs := make([]subscription, len(b.handlers[evt.Type]))
	copy(subs, b.handlers[evt.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.fn(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types. The handler is
// removed when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus is closed")
	}
	b.nextID++
	id := b.nextID
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: handler})
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range eventTypes {
			subs := b.handlers[t]
			for i, sub := range subs {
				if sub.id == id {
					b.handlers[t] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
	}()

	return nil
}

// Close marks the bus closed; subsequent publishes and subscribes fail.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
