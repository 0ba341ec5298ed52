// Package memory provides an in-process implementation of the event bus.
// Delivery is synchronous and ordered: Publish returns once every subscribed
// handler has run, so handlers must not block.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/sonolive/internal/domain/events"
)

var (
	_ events.EventBus             = (*Bus)(nil)
	_ events.DomainEventPublisher = (*Bus)(nil)
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	id      uint64
	types   map[events.EventType]struct{}
	handler events.HandlerFunc
}

func (s subscription) matches(t events.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans events out to in-process subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus { return new(Bus) }

// Subscribe registers handler for eventTypes until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	types := make(map[events.EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: types, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return nil
}

// SubscribeHandler registers an events.EventHandler for its supported types.
func (b *Bus) SubscribeHandler(ctx context.Context, h events.EventHandler) error {
	return b.Subscribe(ctx, h.SupportedEvents(), h.HandleEvent)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// Publish delivers event to every matching handler. A failing handler does not
// prevent delivery to the others; all handler errors are joined.
func (b *Bus) Publish(ctx context.Context, event events.DomainEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	// Copy so handlers run without the lock held.
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if !s.matches(event.Type) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %d: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}

// PublishDomainEvent applies opts to event and publishes it.
func (b *Bus) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var p events.PublishParams
	for _, opt := range opts {
		opt(&p)
	}
	if p.Key != "" {
		event.Key = p.Key
	}
	if p.Target != "" {
		event.Target = p.Target
	}
	return b.Publish(ctx, event)
}

// Close drops all subscribers. It is safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
