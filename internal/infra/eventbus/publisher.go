// Package eventbus adapts domain-level event publishing onto a concrete
// events.EventBus implementation (Kafka in production, in-memory in tests).
package eventbus

import (
	"context"

	"github.com/ahrav/scanforge/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher by wrapping a
// domain event in an envelope and handing it to the underlying bus.
type DomainEventPublisher struct {
	bus events.EventBus
}

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the provided event bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{bus: bus}
}

// PublishDomainEvent sends a domain event through the event bus, applying the
// routing key and headers from the publish options to the envelope.
func (p *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return p.bus.Publish(ctx, evt, opts...)
}
