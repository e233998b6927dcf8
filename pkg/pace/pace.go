// Package pace provides rate-limiting call primitives: a trailing-edge
// debouncer and a leading+trailing throttle. Both hold only timer handles
// and last-argument state and are safe for concurrent use.
package pace

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls into one invocation of fn with the
// most recent argument, wait after the last call. Earlier arguments are
// discarded in favor of the latest.
type Debouncer[T any] struct {
	mu      sync.Mutex
	fn      func(T)
	wait    time.Duration
	timer   *time.Timer
	latest  T
	pending bool
}

// NewDebouncer creates a debouncer that invokes fn wait after the most
// recent Call.
func NewDebouncer[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{fn: fn, wait: wait}
}

// Call records v as the pending argument and restarts the wait timer.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = v
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.latest
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fn(v)
}

// Flush synchronously invokes any pending call immediately. Used on
// teardown paths that must not lose the last input.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v := d.latest
	d.pending = false
	d.mu.Unlock()
	d.fn(v)
}

// Stop discards any pending call without invoking fn.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
}

// Pending reports whether a call is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Throttle executes fn immediately when at least interval has elapsed
// since the last execution, and otherwise schedules exactly one trailing
// execution at the interval boundary, collapsing intermediate calls.
type Throttle struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	lastRun  time.Time
	timer    *time.Timer
}

// NewThrottle creates a throttle around fn.
func NewThrottle(interval time.Duration, fn func()) *Throttle {
	return &Throttle{fn: fn, interval: interval}
}

// Call requests an execution of fn subject to the throttle contract.
func (t *Throttle) Call() {
	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.lastRun) >= t.interval {
		t.lastRun = now
		t.mu.Unlock()
		t.fn()
		return
	}
	if t.timer == nil {
		remaining := t.interval - now.Sub(t.lastRun)
		t.timer = time.AfterFunc(remaining, t.trailing)
	}
	t.mu.Unlock()
}

func (t *Throttle) trailing() {
	t.mu.Lock()
	t.timer = nil
	t.lastRun = time.Now()
	t.mu.Unlock()
	t.fn()
}

// Stop cancels a scheduled trailing execution, if any.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
