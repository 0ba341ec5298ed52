// Package timeutil abstracts the wall clock so time-dependent components can
// be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Provider supplies the current time.
type Provider interface {
	Now() time.Time
}

type realProvider struct{}

func (realProvider) Now() time.Time { return time.Now() }

// Default returns a Provider backed by time.Now.
func Default() Provider { return realProvider{} }

// Mock is a manually advanced clock.
type Mock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewMock returns a Mock starting at t.
func NewMock(t time.Time) *Mock { return &Mock{CurrentTime: t} }

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

// Set pins the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTime = t
}
