// Package debounce provides the quiet-window timer used to collapse bursts
// of push events into a single refresh.
package debounce

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of triggers into one callback invocation after
// the quiet window elapses. The callback runs on the timer goroutine.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	pending bool
	fn      func()
}

// New creates a debouncer that invokes fn once per quiet window.
func New(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger arms (or re-arms) the timer. Returns true when the trigger landed
// inside an already-pending window, i.e. it was coalesced.
func (d *Debouncer) Trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending {
		d.timer.Reset(d.window)
		return true
	}

	d.pending = true
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
		d.fn()
	})
	return false
}

// Pending reports whether an invocation is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending invocation.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.timer.Stop()
		d.pending = false
	}
}
