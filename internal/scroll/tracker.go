// Package scroll decides whether the log pane follows new output.
package scroll

// State is the pane's follow state.
type State int

const (
	PinnedToBottom State = iota
	ScrolledAway
)

func (s State) String() string {
	if s == ScrolledAway {
		return "scrolled-away"
	}
	return "pinned"
}

// Tracker is a two-state machine fed with the pane's distance from the top.
// Scrolling up by more than the tolerance unpins it; only Resume re-pins it.
type Tracker struct {
	tolerance int
	state     State
	anchor    int
}

// NewTracker returns a pinned tracker.
func NewTracker(tolerance int) *Tracker {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Tracker{tolerance: tolerance}
}

// Observe feeds the current distance from the top and returns the new state.
func (t *Tracker) Observe(offset int) State {
	if t.state == ScrolledAway {
		return t.state
	}
	if offset >= t.anchor {
		t.anchor = offset
		return t.state
	}
	if t.anchor-offset > t.tolerance {
		t.state = ScrolledAway
	}
	return t.state
}

// Resume re-pins the pane at offset, normally the bottom.
func (t *Tracker) Resume(offset int) {
	t.state = PinnedToBottom
	t.anchor = offset
}

// AutoScroll reports whether new output should move the pane to the bottom.
func (t *Tracker) AutoScroll() bool { return t.state == PinnedToBottom }

func (t *Tracker) State() State { return t.state }

// Reset returns to the initial pinned state.
func (t *Tracker) Reset() {
	t.state = PinnedToBottom
	t.anchor = 0
}
