package state

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet window applied to rapid-fire mutations such as
// per-keystroke search input.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer collapses bursts of Trigger calls into one invocation of fn after
// a quiet window. Flush runs fn immediately, for explicit submit or blur.
type Debouncer struct {
	mu    sync.Mutex
	d     time.Duration
	timer *time.Timer
	fn    func()
}

func NewDebouncer(d time.Duration, fn func()) *Debouncer {
	if d <= 0 {
		d = DefaultDebounce
	}
	return &Debouncer{d: d, fn: fn}
}

// Trigger schedules fn after the quiet window, restarting the window if one
// is already pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.d, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Flush cancels any pending window and runs fn now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fn()
}

// Stop cancels any pending invocation without running fn.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}
