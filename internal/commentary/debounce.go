package commentary

import (
	"sync"
	"time"
)

// defaultDebounceWindow is used when a Debouncer is constructed with a
// non-positive window.
const defaultDebounceWindow = 10 * time.Second

// Debouncer is a check-and-set rate gate: it grants at most one acquisition
// per window. The event scheduler consults it on every qualifying detection
// so that a burst of events produces a single prompt.
//
// The check and the record are one atomic operation, so re-entrant calls
// within the same tick can never double-grant. Safe for concurrent use,
// although the scheduler invokes it from a single sequential event path.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewDebouncer creates a Debouncer with the given minimum interval between
// grants. A non-positive window falls back to a package default.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = defaultDebounceWindow
	}
	return &Debouncer{
		window: window,
		now:    time.Now,
	}
}

// TryAcquire reports whether an action may proceed now. It returns true and
// records the current time as the last grant iff no prior grant happened
// within the last window (or no grant has ever happened); otherwise it
// returns false and leaves the state unchanged.
func (d *Debouncer) TryAcquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.last.IsZero() && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	return true
}

// Window returns the configured minimum interval between grants.
func (d *Debouncer) Window() time.Duration {
	return d.window
}
