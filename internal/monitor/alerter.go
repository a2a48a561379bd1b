package monitor

import (
	"sync"
	"time"
)

// debouncer gates alerts system-wide: at most one per window.
type debouncer struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newDebouncer() *debouncer {
	return &debouncer{now: time.Now}
}

// allow reports whether an alert may fire now and, if so, starts a new
// window.
func (d *debouncer) allow(window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < window {
		return false
	}
	d.last = now
	return true
}

func (d *debouncer) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = time.Time{}
}

func (d *debouncer) lastAlert() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
