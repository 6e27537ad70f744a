package stream

import (
	"strings"

	"github.com/example/tklogs/internal/containers"
)

type paneBuf struct {
	name     string
	ordinal  int
	status   containers.RuntimeStatus
	text     strings.Builder
	lines    int
	err      error
	complete bool
	mounted  bool
}

// Accumulator holds the text of every container slot, keyed by ordinal. Each
// slot is written only by the fetch task of its own container.
type Accumulator struct {
	panes []*paneBuf
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Ensure adds slots for descriptors not seen yet.
func (a *Accumulator) Ensure(descs []containers.Descriptor) {
	for _, d := range descs {
		if d.Ordinal < len(a.panes) {
			continue
		}
		for len(a.panes) < d.Ordinal {
			a.panes = append(a.panes, &paneBuf{ordinal: len(a.panes)})
		}
		a.panes = append(a.panes, &paneBuf{name: d.Name, ordinal: d.Ordinal})
	}
}

func (a *Accumulator) slot(ordinal int) *paneBuf {
	if ordinal < 0 || ordinal >= len(a.panes) {
		return nil
	}
	return a.panes[ordinal]
}

// SetStatus records the runtime status of ordinal.
func (a *Accumulator) SetStatus(ordinal int, status containers.RuntimeStatus) {
	if p := a.slot(ordinal); p != nil {
		p.status = status
	}
}

// Status returns the runtime status of ordinal.
func (a *Accumulator) Status(ordinal int) containers.RuntimeStatus {
	if p := a.slot(ordinal); p != nil {
		return p.status
	}
	return containers.Unknown
}

// Mount makes ordinal visible. It reports false when it already was.
func (a *Accumulator) Mount(ordinal int) bool {
	p := a.slot(ordinal)
	if p == nil || p.mounted {
		return false
	}
	p.mounted = true
	return true
}

// Mounted reports whether ordinal is visible.
func (a *Accumulator) Mounted(ordinal int) bool {
	p := a.slot(ordinal)
	return p != nil && p.mounted
}

// Append adds one line to ordinal.
func (a *Accumulator) Append(ordinal int, line string) {
	p := a.slot(ordinal)
	if p == nil || p.complete {
		return
	}
	p.text.WriteString(line)
	p.text.WriteByte('\n')
	p.lines++
}

// Finish marks ordinal complete with an optional inline error.
func (a *Accumulator) Finish(ordinal int, err error) {
	if p := a.slot(ordinal); p != nil && !p.complete {
		p.complete = true
		p.err = err
	}
}

// Pane returns the view of a single slot.
func (a *Accumulator) Pane(ordinal int) PaneView {
	p := a.slot(ordinal)
	if p == nil {
		return PaneView{Ordinal: ordinal}
	}
	return p.view()
}

// Panes returns the mounted slots in ordinal order.
func (a *Accumulator) Panes() []PaneView {
	out := make([]PaneView, 0, len(a.panes))
	for _, p := range a.panes {
		if p.mounted {
			out = append(out, p.view())
		}
	}
	return out
}

// Reset drops every slot.
func (a *Accumulator) Reset() {
	a.panes = nil
}

func (p *paneBuf) view() PaneView {
	return PaneView{
		Name:     p.name,
		Ordinal:  p.ordinal,
		Status:   p.status,
		Text:     p.text.String(),
		Lines:    p.lines,
		Err:      p.err,
		Complete: p.complete,
	}
}
