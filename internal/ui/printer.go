// File: internal/ui/printer.go
// Brief: Plain line printer used when the output is not an interactive terminal.

package ui

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/gate"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/stream"
)

// PrinterOptions tune the plain output.
type PrinterOptions struct {
	Color      bool
	Timestamps bool
	// Prefix prepends the container name to every line.
	Prefix bool
}

// Printer writes revealed log lines to a writer in order, one step after the
// other. Per-container failures go to the error writer and never stop output.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	opts    PrinterOptions
	palette []*color.Color
	title   cases.Caser
	delayed string
}

func NewPrinter(out, errOut io.Writer, opts PrinterOptions) *Printer {
	palette := DefaultColorPalette()
	for _, c := range palette {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Printer{
		out:     out,
		errOut:  errOut,
		opts:    opts,
		palette: palette,
		title:   cases.Title(language.English),
	}
}

// DefaultColorPalette returns the color rotation used for container prefixes.
func DefaultColorPalette() []*color.Color {
	return []*color.Color{
		color.New(color.Bold, color.FgHiCyan),
		color.New(color.Bold, color.FgHiMagenta),
		color.New(color.Bold, color.FgHiGreen),
		color.New(color.Bold, color.FgHiYellow),
		color.New(color.Bold, color.FgHiBlue),
		color.New(color.Bold, color.FgHiRed),
	}
}

func (p *Printer) ObserveLine(line stream.Line) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	if p.opts.Timestamps {
		b.WriteString(line.Time.UTC().Format(time.RFC3339))
		b.WriteByte(' ')
	}
	if p.opts.Prefix {
		b.WriteString(p.colorFor(line.Container).Sprintf("[%s]", line.Container))
		b.WriteByte(' ')
	}
	b.WriteString(line.Text)
	b.WriteByte('\n')
	_, _ = io.WriteString(p.out, b.String())
}

// TaskStarted prints the task header with its run time before the task's steps.
func (p *Printer) TaskStarted(task resource.TaskRunInfo, now time.Time) {
	if p.opts.Prefix {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	header := "#### " + task.Ref().DisplayName()
	if d := FormatDuration(task.Duration(now)); d != "" {
		header += " (" + d + ")"
	}
	fmt.Fprintln(p.out, header)
}

func (p *Printer) PaneMounted(id resource.Identity, pane stream.PaneView) {
	if p.opts.Prefix {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	header := fmt.Sprintf("==> %s <==", p.stepTitle(pane.Name))
	fmt.Fprintln(p.out, p.colorFor(pane.Name).Sprint(header))
}

func (p *Printer) PaneCompleted(id resource.Identity, pane stream.PaneView) {
	if pane.Err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.errOut, "failed to load logs for %s/%s[%s]: %v\n", id.Namespace, id.Pod, pane.Name, pane.Err)
}

// ObserveView reports a delayed stream once per container.
func (p *Printer) ObserveView(v *stream.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Delayed != "" && v.Delayed != p.delayed {
		fmt.Fprintf(p.errOut, "%s (%s)\n", gate.DelayedNotice, v.Delayed)
	}
	p.delayed = v.Delayed
}

func (p *Printer) stepTitle(name string) string {
	trimmed := strings.TrimPrefix(name, containers.StepPrefix)
	return p.title.String(strings.ReplaceAll(trimmed, "-", " "))
}

func (p *Printer) colorFor(name string) *color.Color {
	return p.palette[paletteIndex(name, len(p.palette))]
}

func paletteIndex(seed string, length int) int {
	if length == 0 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(seed))
	return int(hasher.Sum32() % uint32(length))
}
