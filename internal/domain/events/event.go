package events

import "time"

// DomainEvent encapsulates all event data flowing from the session orchestrator
// to observers, providing a standardized format for routing and delivery.
type DomainEvent struct {
	// ID uniquely identifies this event instance.
	ID string

	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Seq is the orchestrator's emission sequence number. It increases by one
	// for every event and lets observers line events up against snapshots.
	Seq uint64

	// Key carries the business identifier the event concerns, typically a
	// candidate identity.
	Key string

	// Target is the connection the event is scoped to. Empty means every
	// connection receives it.
	Target string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}

// Broadcast reports whether the event goes to every observer.
func (e DomainEvent) Broadcast() bool { return e.Target == "" }
