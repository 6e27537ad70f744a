package ui

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/example/tklogs/internal/stream"
)

// ViewMsg carries a published snapshot into the bubbletea program.
type ViewMsg struct {
	View *stream.View
}

// ViewForwarder observes a session and hands the latest View to the program.
// Intermediate snapshots are coalesced; the program always renders the newest.
type ViewForwarder struct {
	latest atomic.Pointer[stream.View]
	wake   chan struct{}
}

func NewViewForwarder() *ViewForwarder {
	return &ViewForwarder{wake: make(chan struct{}, 1)}
}

// ObserveView implements stream.Observer. It never blocks the session loop.
func (f *ViewForwarder) ObserveView(v *stream.View) {
	f.latest.Store(v)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Run delivers snapshots through send until ctx is done.
func (f *ViewForwarder) Run(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
			if v := f.latest.Load(); v != nil {
				send(ViewMsg{View: v})
			}
		}
	}
}
