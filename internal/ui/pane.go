// File: internal/ui/pane.go
// Brief: Interactive log pane built on bubbletea.

package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/download"
	"github.com/example/tklogs/internal/gate"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/scroll"
	"github.com/example/tklogs/internal/stream"
)

const (
	// scrollTolerance is how far (in lines) the user may drift from the bottom
	// before the pane stops following new output.
	scrollTolerance = 1

	errorTitle  = "Error loading logs"
	errorDetail = "Please try again later."
)

// Controller is the session surface the pane drives.
type Controller interface {
	View() *stream.View
	Handle() stream.LogTextHandle
	Bind(resource.Ref)
}

// PaneConfig wires a Pane.
type PaneConfig struct {
	Context     context.Context
	Controller  Controller
	Tasks       []resource.TaskRunInfo
	Current     int
	Bulk        *download.Bulk
	DownloadDir string
	Follow      bool
}

type savedMsg struct {
	path string
	err  error
}

type bulkDoneMsg struct {
	err error
}

// Pane renders the bound task run's logs and handles the pane controls.
type Pane struct {
	cfg        PaneConfig
	viewport   viewport.Model
	spinner    spinner.Model
	tracker    *scroll.Tracker
	view       *stream.View
	epoch      uint64
	width      int
	height     int
	ready      bool
	fullscreen bool
	bulkBusy   bool
	flash      string
	flashErr   bool
	now        func() time.Time
}

// NewPane returns a Pane model.
func NewPane(cfg PaneConfig) *Pane {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(accent)
	p := &Pane{
		cfg:      cfg,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		tracker:  scroll.NewTracker(scrollTolerance),
		now:      time.Now,
	}
	if cfg.Controller != nil {
		p.view = cfg.Controller.View()
	}
	return p
}

func (p *Pane) Init() tea.Cmd {
	return p.spinner.Tick
}

func (p *Pane) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
		p.ready = true
		p.layout()
		p.refresh()
		return p, nil
	case ViewMsg:
		p.setView(msg.View)
		return p, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	case savedMsg:
		if msg.err != nil {
			p.setFlash(fmt.Sprintf("download failed: %v", msg.err), true)
		} else {
			p.setFlash("saved "+msg.path, false)
		}
		return p, nil
	case bulkDoneMsg:
		p.bulkBusy = false
		if msg.err != nil {
			p.setFlash(fmt.Sprintf("%s failed: %v", p.cfg.Bulk.Label(), msg.err), true)
		} else {
			p.setFlash(p.cfg.Bulk.Label()+" finished", false)
		}
		return p, nil
	case tea.KeyMsg:
		return p.handleKey(msg)
	case tea.MouseMsg:
		var cmd tea.Cmd
		p.viewport, cmd = p.viewport.Update(msg)
		p.tracker.Observe(p.viewport.YOffset)
		return p, cmd
	}
	return p, nil
}

func (p *Pane) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return p, tea.Quit
	case key.Matches(msg, keys.Download):
		return p, p.saveCmd()
	case key.Matches(msg, keys.DownloadAll):
		return p, p.bulkCmd()
	case key.Matches(msg, keys.Fullscreen):
		p.fullscreen = !p.fullscreen
		p.layout()
		p.refresh()
		return p, nil
	case key.Matches(msg, keys.Resume):
		p.viewport.GotoBottom()
		p.tracker.Resume(p.viewport.YOffset)
		return p, nil
	case key.Matches(msg, keys.NextTask):
		p.switchTask(1)
		return p, nil
	case key.Matches(msg, keys.PrevTask):
		p.switchTask(-1)
		return p, nil
	}
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	p.tracker.Observe(p.viewport.YOffset)
	return p, cmd
}

func (p *Pane) saveCmd() tea.Cmd {
	if p.cfg.Controller == nil || p.view == nil {
		return nil
	}
	dir := p.cfg.DownloadDir
	name := p.view.TaskName
	if v := p.cfg.Controller.View(); v != nil {
		name = v.TaskName
	}
	handle := p.cfg.Controller.Handle()
	if handle == nil {
		return nil
	}
	// The file holds the text visible when the key was pressed.
	text := handle()
	return func() tea.Msg {
		path, err := download.SaveSingle(dir, name, func() string { return text })
		return savedMsg{path: path, err: err}
	}
}

func (p *Pane) bulkCmd() tea.Cmd {
	bulk := p.cfg.Bulk
	if bulk == nil || p.bulkBusy || !bulk.Enabled() {
		return nil
	}
	p.bulkBusy = true
	ctx := p.cfg.Context
	return tea.Batch(func() tea.Msg {
		return bulkDoneMsg{err: bulk.Run(ctx)}
	}, p.spinner.Tick)
}

func (p *Pane) switchTask(delta int) {
	n := len(p.cfg.Tasks)
	if n < 2 || p.cfg.Controller == nil {
		return
	}
	p.cfg.Current = ((p.cfg.Current+delta)%n + n) % n
	p.cfg.Controller.Bind(p.cfg.Tasks[p.cfg.Current].Ref())
}

func (p *Pane) setView(v *stream.View) {
	if v == nil {
		return
	}
	if v.Epoch != p.epoch {
		p.epoch = v.Epoch
		p.tracker.Reset()
		p.viewport.GotoTop()
	}
	p.view = v
	p.layout()
	p.refresh()
}

func (p *Pane) setFlash(text string, isErr bool) {
	p.flash = text
	p.flashErr = isErr
	p.layout()
	p.refresh()
}

// refresh re-renders the body and keeps the pane at the bottom while pinned.
func (p *Pane) refresh() {
	if !p.ready {
		return
	}
	p.viewport.SetContent(p.renderBody())
	if p.tracker.AutoScroll() {
		p.viewport.GotoBottom()
		// Layout and content changes re-anchor; only key and mouse scrolling
		// can unpin the pane.
		p.tracker.Resume(p.viewport.YOffset)
	}
}

func (p *Pane) layout() {
	if !p.ready {
		return
	}
	chrome := 0
	if !p.fullscreen {
		chrome = lipgloss.Height(p.renderHeader()) + lipgloss.Height(p.renderFooter())
	}
	p.viewport.Width = p.width
	p.viewport.Height = max(1, p.height-chrome)
}

func (p *Pane) View() string {
	if !p.ready {
		return p.spinner.View() + " Loading logs..."
	}
	if p.fullscreen {
		return p.viewport.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, p.renderHeader(), p.viewport.View(), p.renderFooter())
}

// Following reports whether the pane sticks to the newest output.
func (p *Pane) Following() bool { return p.tracker.AutoScroll() }

func (p *Pane) renderHeader() string {
	v := p.view
	if v == nil {
		return titleStyle.Render("tklogs")
	}
	name := v.TaskName
	if name == "" {
		name = v.Identity.Pod
	}
	parts := []string{titleStyle.Render(name)}
	if task, ok := p.currentTask(v); ok {
		if d := FormatDuration(task.Duration(p.now())); d != "" {
			parts = append(parts, infoStyle.Render(d))
		}
	}
	if !v.Loading && v.Err == nil {
		if v.Source == resource.SourceArchive {
			parts = append(parts, archiveBadge.Render("archived"))
		} else {
			parts = append(parts, clusterBadge.Render("live"))
		}
	}
	meta := v.Identity.Namespace + "/" + v.Identity.Pod
	if n := len(p.cfg.Tasks); n > 1 {
		meta += fmt.Sprintf("  task %d/%d", p.cfg.Current+1, n)
	}
	if v.Total > 0 {
		meta += fmt.Sprintf("  steps %d/%d", min(v.Cursor+1, v.Total), v.Total)
	}
	parts = append(parts, infoStyle.Render(meta))
	line := strings.Join(parts, " ")
	if p.width > 0 && lipgloss.Width(line) > p.width {
		line = trimToWidth(name+" "+meta, p.width)
	}
	return line
}

// currentTask returns the selected task run when it is the one on screen.
func (p *Pane) currentTask(v *stream.View) (resource.TaskRunInfo, bool) {
	if p.cfg.Current < 0 || p.cfg.Current >= len(p.cfg.Tasks) {
		return resource.TaskRunInfo{}, false
	}
	task := p.cfg.Tasks[p.cfg.Current]
	if task.PodName != v.Identity.Pod {
		return resource.TaskRunInfo{}, false
	}
	return task, true
}

// FormatDuration renders a task run time the way the headers show it.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Second).String()
}

func (p *Pane) renderFooter() string {
	hints := []string{
		hint(keys.Download),
		hint(keys.Fullscreen),
	}
	if bulk := p.cfg.Bulk; bulk != nil {
		switch {
		case p.bulkBusy || bulk.Busy():
			hints = append(hints, p.spinner.View()+" "+hintStyle.Render(bulk.Label()))
		case bulk.Available():
			hints = append(hints, keyStyle.Render("a")+" "+hintStyle.Render(strings.ToLower(bulk.Label())))
		default:
			hints = append(hints, disabledStyle.Render("a "+strings.ToLower(bulk.Label())))
		}
	}
	if len(p.cfg.Tasks) > 1 {
		hints = append(hints, hint(keys.NextTask), hint(keys.PrevTask))
	}
	if !p.tracker.AutoScroll() {
		hints = append(hints, noticeStyle.Render("paused")+" "+hint(keys.Resume))
	}
	hints = append(hints, hint(keys.Quit))
	footer := strings.Join(hints, "  ")
	if p.flash != "" {
		style := infoStyle
		if p.flashErr {
			style = inlineErrorStyle
		}
		footer = lipgloss.JoinVertical(lipgloss.Left, style.Render(p.flash), footer)
	}
	return footer
}

func hint(b key.Binding) string {
	h := b.Help()
	return keyStyle.Render(h.Key) + " " + hintStyle.Render(h.Desc)
}

func (p *Pane) renderBody() string {
	v := p.view
	switch {
	case v == nil || v.Loading:
		return p.spinner.View() + " Loading logs..."
	case v.Err != nil:
		return lipgloss.JoinVertical(lipgloss.Left,
			errorTitleStyle.Render(errorTitle),
			infoStyle.Render(errorDetail),
		)
	}
	var b strings.Builder
	for _, pane := range v.Panes {
		b.WriteString(stepStyle.Render(stepHeader(pane)))
		b.WriteByte('\n')
		b.WriteString(pane.Text)
		if pane.Err != nil {
			b.WriteString(inlineErrorStyle.Render(fmt.Sprintf("failed to load logs for %s: %v", pane.Name, pane.Err)))
			b.WriteByte('\n')
		}
	}
	if v.Delayed != "" {
		b.WriteString(noticeStyle.Render(fmt.Sprintf("%s (%s)", gate.DelayedNotice, v.Delayed)))
		b.WriteByte('\n')
	}
	if v.Discovering {
		b.WriteString(hintStyle.Render("waiting for more steps..."))
		b.WriteByte('\n')
	}
	if len(v.Panes) == 0 && !v.Discovering && v.Delayed == "" {
		b.WriteString(hintStyle.Render("no logs yet"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func stepHeader(pane stream.PaneView) string {
	label := pane.Status.String()
	if pane.Complete && pane.Status != containers.Terminated {
		label = "done"
	}
	return fmt.Sprintf("▸ %s [%s]", pane.Name, label)
}

func trimToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
