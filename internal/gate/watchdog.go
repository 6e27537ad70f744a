package gate

import "time"

// DelayedNotice is shown while the container at the cursor makes no progress.
const DelayedNotice = "log stream may be delayed"

// Watchdog flags the container at the cursor once nothing has been observed
// for timeout. It only reports; it never moves the cursor.
type Watchdog struct {
	timeout time.Duration
	ordinal int
	last    time.Time
}

// NewWatchdog returns a watchdog. A non-positive timeout disables it.
func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout, ordinal: -1}
}

// Touch records progress for the container at ordinal.
func (w *Watchdog) Touch(ordinal int, at time.Time) {
	w.ordinal = ordinal
	w.last = at
}

// Check reports whether the watched container is delayed at time at.
func (w *Watchdog) Check(at time.Time) (int, bool) {
	if w.timeout <= 0 || w.ordinal < 0 || w.last.IsZero() {
		return -1, false
	}
	return w.ordinal, at.Sub(w.last) >= w.timeout
}

// Reset forgets the watched container.
func (w *Watchdog) Reset() {
	w.ordinal = -1
	w.last = time.Time{}
}
