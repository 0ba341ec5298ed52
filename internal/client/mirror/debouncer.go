package mirror

import (
	"sync"
	"time"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

// DefaultDebounceWindow is the cool-down between identical side actions.
const DefaultDebounceWindow = 750 * time.Millisecond

// Debouncer suppresses repeats of the same action against the same target
// inside a cool-down window.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   map[actionKey]time.Time
	clock  timeutil.Provider
}

// NewDebouncer creates a debouncer. A nil clock uses wall time.
func NewDebouncer(window time.Duration, clock timeutil.Provider) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if clock == nil {
		clock = timeutil.Default()
	}
	return &Debouncer{window: window, last: make(map[actionKey]time.Time), clock: clock}
}

// Allow reports whether kind may be sent for target now, and if so starts a
// new window for it.
func (d *Debouncer) Allow(kind discovery.ActionKind, target string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	key := actionKey{kind, target}
	if at, ok := d.last[key]; ok && now.Sub(at) < d.window {
		return false
	}
	for k, at := range d.last {
		if now.Sub(at) >= d.window {
			delete(d.last, k)
		}
	}
	d.last[key] = now
	return true
}
