// Package inflight tracks user-triggered side effects that are currently
// executing so a repeat of the same request can be recognised and ignored.
package inflight

import (
	"sync"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// Key identifies one logical action against one target.
type Key struct {
	Kind     discovery.ActionKind
	Identity string
}

// NewKey builds a Key with the target's normalized identity.
func NewKey(kind discovery.ActionKind, identity string) Key {
	return Key{Kind: kind, Identity: discovery.NormalizeIdentity(identity)}
}

// Registry enforces at most one in-flight action per Key. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[Key]discovery.Requester
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[Key]discovery.Requester)}
}

// TryAcquire registers key for requester. It reports false, leaving the
// registry unchanged, when key is already in flight.
func (r *Registry) TryAcquire(key Key, requester discovery.Requester) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.pending[key]; busy {
		return false
	}
	r.pending[key] = requester
	return true
}

// Release clears key and returns the requester that acquired it.
func (r *Registry) Release(key Key) (discovery.Requester, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[key]
	delete(r.pending, key)
	return req, ok
}

// Holder returns the requester currently holding key.
func (r *Registry) Holder(key Key) (discovery.Requester, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[key]
	return req, ok
}

// InFlight reports whether key is currently held.
func (r *Registry) InFlight(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len returns the number of in-flight actions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Do runs fn only if key is free, releasing it afterwards. It reports whether
// fn ran.
func (r *Registry) Do(key Key, requester discovery.Requester, fn func()) bool {
	if !r.TryAcquire(key, requester) {
		return false
	}
	defer r.Release(key)
	fn()
	return true
}
