package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
)

func TestPrinterWritesHeadersAndLines(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PrinterOptions{})
	id := resource.Identity{Namespace: "ci", Pod: "pod"}

	p.PaneMounted(id, stream.PaneView{Name: "step-git-clone"})
	p.ObserveLine(stream.Line{Identity: id, Container: "step-git-clone", Text: "cloning"})
	p.PaneCompleted(id, stream.PaneView{Name: "step-git-clone"})
	p.PaneMounted(id, stream.PaneView{Name: "step-build", Ordinal: 1})
	p.PaneCompleted(id, stream.PaneView{Name: "step-build", Ordinal: 1, Err: errors.New("stream reset")})

	assert.Equal(t, "==> Git Clone <==\ncloning\n==> Build <==\n", out.String())
	assert.Equal(t, "failed to load logs for ci/pod[step-build]: stream reset\n", errOut.String())
}

func TestPrinterPrefixAndTimestamps(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, &out, PrinterOptions{Prefix: true, Timestamps: true})
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	p.PaneMounted(resource.Identity{}, stream.PaneView{Name: "step-build"})
	p.ObserveLine(stream.Line{Time: at, Container: "step-build", Text: "ok"})

	assert.Equal(t, "2024-05-01T10:00:00Z [step-build] ok\n", out.String())
}

func TestPrinterReportsDelayOnce(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PrinterOptions{})
	p.ObserveView(&stream.View{Delayed: "step-build"})
	p.ObserveView(&stream.View{Delayed: "step-build"})
	p.ObserveView(&stream.View{})
	assert.Equal(t, "log stream may be delayed (step-build)\n", errOut.String())
}

func TestViewForwarderDeliversLatest(t *testing.T) {
	f := NewViewForwarder()
	f.ObserveView(&stream.View{Epoch: 1})
	f.ObserveView(&stream.View{Epoch: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan tea.Msg, 4)
	go f.Run(ctx, func(msg tea.Msg) { got <- msg })

	select {
	case msg := <-got:
		vm, ok := msg.(ViewMsg)
		require.True(t, ok)
		assert.Equal(t, uint64(2), vm.View.Epoch)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not deliver")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra message %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPaletteIndexStable(t *testing.T) {
	assert.Equal(t, paletteIndex("step-build", 6), paletteIndex("step-build", 6))
	assert.Equal(t, 0, paletteIndex("x", 0))
	for _, seed := range []string{"step-clone", "step-build", "step-push", "sidecar", "a", ""} {
		idx := paletteIndex(seed, 6)
		assert.GreaterOrEqual(t, idx, 0, seed)
		assert.Less(t, idx, 6, seed)
	}
}

func TestPrinterTaskHeaderShowsDuration(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, &out, PrinterOptions{})
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	p.TaskStarted(resource.TaskRunInfo{Name: "pr-build", TaskName: "build", PodName: "pr-build-pod",
		StartedAt: start, CompletedAt: start.Add(95 * time.Second)}, start.Add(time.Hour))
	p.TaskStarted(resource.TaskRunInfo{Name: "pr-lint", TaskName: "lint", PodName: "pr-lint-pod",
		StartedAt: start}, start.Add(12*time.Second))
	p.TaskStarted(resource.TaskRunInfo{Name: "pr-push", TaskName: "push", PodName: "pr-push-pod"}, start)

	assert.Equal(t, "#### build (1m35s)\n#### lint (12s)\n#### push\n", out.String())
}
