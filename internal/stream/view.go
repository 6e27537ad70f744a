package stream

import (
	"strings"
	"time"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/resource"
)

// LogTextHandle returns the text currently visible in the pane.
type LogTextHandle func() string

// PaneView is the published state of one mounted container.
type PaneView struct {
	Name     string
	Ordinal  int
	Status   containers.RuntimeStatus
	Text     string
	Lines    int
	Err      error
	Complete bool
}

// View is an immutable snapshot of the log pane. A new View is published for
// every change, so a reader never sees a torn state.
type View struct {
	Epoch       uint64
	Identity    resource.Identity
	TaskName    string
	Source      resource.Source
	Loading     bool
	Discovering bool
	Err         error
	Cursor      int
	Total       int
	Panes       []PaneView
	// Delayed names the container at the cursor once it has made no progress
	// for the stall timeout.
	Delayed string
	At      time.Time
}

// Text concatenates the visible text of every mounted pane in order.
func (v *View) Text() string {
	if v == nil {
		return ""
	}
	size := 0
	for _, p := range v.Panes {
		size += len(p.Text)
	}
	var b strings.Builder
	b.Grow(size)
	for _, p := range v.Panes {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Pane returns the pane for ordinal.
func (v *View) Pane(ordinal int) (PaneView, bool) {
	if v == nil {
		return PaneView{}, false
	}
	for _, p := range v.Panes {
		if p.Ordinal == ordinal {
			return p, true
		}
	}
	return PaneView{}, false
}

// Ref rebuilds the request the view was bound to.
func (v *View) Ref() resource.Ref {
	if v == nil {
		return resource.Ref{}
	}
	return resource.Ref{Identity: v.Identity, TaskName: v.TaskName}
}

// Settled reports whether a pod has been resolved without error.
func (v *View) Settled() bool {
	return v != nil && !v.Loading && v.Err == nil
}
