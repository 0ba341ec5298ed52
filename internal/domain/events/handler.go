package events

import "context"

// EventHandler defines the contract for components that process domain events.
// Each handler must declare which event types it can process.
type EventHandler interface {
	// HandleEvent processes a domain event and returns an error if processing fails.
	HandleEvent(ctx context.Context, evt DomainEvent) error

	// SupportedEvents returns the event types this handler can process. An
	// empty slice means all types.
	SupportedEvents() []EventType
}
