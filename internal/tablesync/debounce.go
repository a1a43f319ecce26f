package tablesync

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one call: a single
// in-flight timer that restarts on every Trigger. Used for both the
// remote-change resync and the init-after-sync pass, with separate
// instances so they never starve each other.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
	done  bool
}

// NewDebouncer creates a debouncer invoking fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the timer. Calls after Stop are ignored.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	fn := d.fn
	d.mu.Unlock()
	fn()
}

// Flush cancels any pending timer and runs fn immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.fn
	d.mu.Unlock()
	fn()
}

// Stop cancels any pending timer permanently. Called on unmount so a
// late timer cannot fire against torn-down resources.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
