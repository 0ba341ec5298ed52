// Package events provides domain event handling capabilities for communicating state changes
// from the session orchestrator to observers in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It decouples event producers from the delivery mechanism.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. Optional
	// PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// HandlerFunc processes a single event.
type HandlerFunc func(ctx context.Context, evt DomainEvent) error

// EventBus enables publishing and subscribing to domain events.
type EventBus interface {
	// Publish delivers an event to all handlers subscribed to its type, in
	// subscription order.
	Publish(ctx context.Context, event DomainEvent) error

	// Subscribe registers a handler for the given event types. An empty list
	// subscribes to every type. The subscription ends when ctx is cancelled.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close releases the bus. Publishing after Close fails.
	Close() error
}
