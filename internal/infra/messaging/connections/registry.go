package connections

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metrics defines the connection gauges maintained by the registry.
type Metrics interface {
	IncConnectedObservers(ctx context.Context)
	DecConnectedObservers(ctx context.Context)
	SetConnectedObservers(ctx context.Context, count int)
}

// Registry manages the set of attached observers. All operations are safe for
// concurrent use; reads take the read lock so fan-out does not contend with
// other readers.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	metrics Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics Metrics) *Registry {
	return &Registry{conns: make(map[string]*Connection), metrics: metrics}
}

// Register adds conn, replacing any connection with the same ID.
func (r *Registry) Register(ctx context.Context, conn *Connection) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("connection_id", conn.ID))
	span.AddEvent("registering_connection")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		span.AddEvent("connection_already_registered")
	} else {
		r.metrics.IncConnectedObservers(ctx)
	}
	r.conns[conn.ID] = conn
	span.AddEvent("connection_registered")

	r.metrics.SetConnectedObservers(ctx, len(r.conns))
}

// Unregister removes the connection with id and returns it. The second result
// is false when no such connection was registered.
func (r *Registry) Unregister(ctx context.Context, id string) (*Connection, bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("connection_id", id))

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[id]
	if !exists {
		span.AddEvent("connection_not_found")
		return nil, false
	}
	delete(r.conns, id)
	span.AddEvent("connection_unregistered")

	r.metrics.DecConnectedObservers(ctx)
	r.metrics.SetConnectedObservers(ctx, len(r.conns))
	return conn, true
}

// Get retrieves a connection by ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// List returns the registered connections at the time of the call.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
