// Package stream binds a log pane to a pod and drives the ordered reveal of its
// container logs. A Session owns one event loop goroutine; every piece of pane
// state is mutated only there.
package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/gate"
	"github.com/example/tklogs/internal/resource"
	"github.com/example/tklogs/internal/tailer"
)

const (
	eventBuffer  = 1024
	tickInterval = time.Second
)

// TaskRunner runs one container fetch task.
type TaskRunner interface {
	Run(ctx context.Context, task tailer.Task, emit func(tailer.Event))
}

// Line is one log line delivered to line observers in reveal order.
type Line struct {
	Time      time.Time
	Identity  resource.Identity
	Container string
	Ordinal   int
	Text      string
}

// Observer receives every published View.
type Observer interface {
	ObserveView(*View)
}

// LineObserver receives log lines in reveal order.
type LineObserver interface {
	ObserveLine(Line)
}

// PaneObserver is notified when a container pane is mounted and when it completes.
type PaneObserver interface {
	PaneMounted(resource.Identity, PaneView)
	PaneCompleted(resource.Identity, PaneView)
}

// StalledError is returned by a non-following session whose cursor sits on a
// container that never started.
type StalledError struct {
	Container string
	Ordinal   int
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("container %q (step %d) has not started; later containers were not shown", e.Container, e.Ordinal+1)
}

// Config wires a Session.
type Config struct {
	Resolver     resource.Watcher
	Runner       TaskRunner
	Follow       bool
	StallTimeout time.Duration
	// ExitWhenDone ends a following session once every container of a finished
	// pod has completed.
	ExitWhenDone bool
	// KeepAlive keeps Run going until ctx ends so later binds are still
	// served after the bound pod's logs are complete.
	KeepAlive bool
	Logger    logr.Logger
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithObserver registers a View observer.
func WithObserver(observer Observer) Option {
	return func(s *Session) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// WithLineObserver registers a line observer. Observers that also implement
// PaneObserver receive pane notifications.
func WithLineObserver(observer LineObserver) Option {
	return func(s *Session) {
		if observer == nil {
			return
		}
		s.lineObservers = append(s.lineObservers, observer)
		if po, ok := observer.(PaneObserver); ok {
			s.paneObservers = append(s.paneObservers, po)
		}
	}
}

type message struct {
	gen    uint64
	result *resource.Result
	closed bool
	fetch  *tailer.Event
}

// Session streams the logs of one bound pod.
type Session struct {
	cfg           Config
	log           logr.Logger
	binder        *resource.Binder
	view          atomic.Pointer[View]
	binds         chan resource.Ref
	events        chan message
	observers     []Observer
	lineObservers []LineObserver
	paneObservers []PaneObserver

	// Loop-owned state.
	runCtx       context.Context
	gen          uint64
	watchCancel  context.CancelFunc
	fetchCtx     context.Context
	fetchCancel  context.CancelFunc
	gate         *gate.Gate
	roster       containers.Roster
	acc          *Accumulator
	watchdog     *gate.Watchdog
	started      map[int]bool
	loading      bool
	discovering  bool
	err          error
	resolverDone bool
	delayed      int
	watched      int
	dirty        bool
}

// New builds a Session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		log:      cfg.Logger.WithName("session"),
		binder:   resource.NewBinder(),
		binds:    make(chan resource.Ref, 1),
		events:   make(chan message, eventBuffer),
		gate:     gate.New(),
		acc:      NewAccumulator(),
		watchdog: gate.NewWatchdog(cfg.StallTimeout),
		started:  make(map[int]bool),
		delayed:  -1,
		watched:  -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view.Store(&View{Loading: true})
	return s
}

// View returns the latest published snapshot.
func (s *Session) View() *View {
	return s.view.Load()
}

// Handle returns the accessor for the visible text. It always reads the latest
// published snapshot.
func (s *Session) Handle() LogTextHandle {
	return func() string { return s.view.Load().Text() }
}

// Bound returns the bound reference, the retained pod and its backend.
func (s *Session) Bound() (resource.Ref, *corev1.Pod, resource.Source) {
	ref, _ := s.binder.Current()
	pod, src := s.binder.Retained()
	return ref, pod, src
}

// Bind asks the running session to switch to ref. Only the latest request is kept.
func (s *Session) Bind(ref resource.Ref) {
	for {
		select {
		case s.binds <- ref:
			return
		default:
		}
		select {
		case <-s.binds:
		default:
		}
	}
}

// Run binds ref and processes events until ctx is done. Unless KeepAlive is set,
// a non-following session returns once the resolver has finished and every
// listed container completed.
func (s *Session) Run(ctx context.Context, ref resource.Ref) error {
	s.runCtx = ctx
	s.bind(ref)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer func() {
		s.stopWatch()
		s.stopFetches()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-s.binds:
			s.bind(next)
		case msg := <-s.events:
			s.handle(msg)
		case now := <-ticker.C:
			s.checkStall(now)
		}
		if s.dirty && len(s.events) == 0 {
			s.publish()
		}
		if done, err := s.finished(); done {
			if s.dirty {
				s.publish()
			}
			return err
		}
	}
}

func (s *Session) bind(ref resource.Ref) {
	s.stopWatch()
	epoch := s.binder.Bind(ref)
	s.gen++
	s.resetEpoch(epoch)
	s.loading = true
	s.err = nil
	s.resolverDone = false
	s.log.V(1).Info("binding log pane", "identity", ref.Identity.String(), "epoch", epoch)

	watchCtx, cancel := context.WithCancel(s.runCtx)
	s.watchCancel = cancel
	results := s.cfg.Resolver.Watch(watchCtx, ref)
	go s.forward(watchCtx, s.gen, results)
	s.publish()
}

func (s *Session) forward(ctx context.Context, gen uint64, results <-chan resource.Result) {
	for res := range results {
		res := res
		if !s.post(ctx, message{gen: gen, result: &res}) {
			return
		}
	}
	s.post(ctx, message{gen: gen, closed: true})
}

func (s *Session) post(ctx context.Context, msg message) bool {
	select {
	case s.events <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) resetEpoch(epoch uint64) {
	s.stopFetches()
	s.fetchCtx, s.fetchCancel = context.WithCancel(s.runCtx)
	s.gate.Reset(epoch, 0)
	s.roster.Reset()
	s.acc.Reset()
	s.watchdog.Reset()
	s.started = make(map[int]bool)
	s.discovering = true
	s.delayed = -1
	s.watched = -1
	s.dirty = true
}

func (s *Session) stopWatch() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

func (s *Session) stopFetches() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
}

func (s *Session) handle(msg message) {
	switch {
	case msg.fetch != nil:
		s.onFetch(*msg.fetch)
	case msg.gen != s.gen:
		return
	case msg.closed:
		s.resolverDone = true
		s.dirty = true
	case msg.result != nil:
		s.onResult(*msg.result)
	}
}

func (s *Session) onResult(res resource.Result) {
	s.dirty = true
	if res.Loading {
		s.loading = true
		return
	}
	pod, epoch, replaced := s.binder.Observe(res)
	if replaced {
		s.log.V(1).Info("pod replaced; resetting log pane", "epoch", epoch)
		s.resetEpoch(epoch)
	}
	s.loading = false
	if res.Err != nil {
		s.err = res.Err
		s.stopFetches()
		s.log.Error(res.Err, "resolve pod failed")
		return
	}
	s.err = nil
	if pod == nil {
		return
	}
	ref, _ := s.binder.Current()
	listing := containers.Enumerate(pod, ref.Pod)
	s.discovering = listing.StillDiscovering
	descs := s.roster.Apply(listing)
	s.gate.Grow(len(descs))
	s.acc.Ensure(descs)
	for _, d := range descs {
		s.acc.SetStatus(d.Ordinal, containers.StatusFor(pod, d.Name))
	}
	s.mount()
}

// mount starts a fetch for every eligible container that has none yet. Waiting
// containers get neither a pane nor a fetch.
func (s *Session) mount() {
	ref, pod, src := s.Bound()
	if pod == nil || s.err != nil {
		return
	}
	now := time.Now()
	for o := 0; o < s.gate.Len() && s.gate.Eligible(o); o++ {
		if s.started[o] || s.gate.IsComplete(o) {
			continue
		}
		status := s.acc.Status(o)
		if status.Skip() {
			continue
		}
		s.started[o] = true
		s.acc.Mount(o)
		pane := s.acc.Pane(o)
		for _, po := range s.paneObservers {
			po.PaneMounted(ref.Identity, pane)
		}
		task := tailer.Task{
			Epoch:   s.gate.Epoch(),
			Ordinal: o,
			Target:  tailer.Target{Namespace: pod.Namespace, Pod: pod.Name, Container: pane.Name},
			Source:  src,
			Status:  status,
		}
		s.log.V(1).Info("mounting container", "container", pane.Name, "ordinal", o, "status", status.String())
		ctx := s.fetchCtx
		go s.cfg.Runner.Run(ctx, task, func(ev tailer.Event) {
			s.post(ctx, message{fetch: &ev})
		})
		s.dirty = true
	}
	if cursor := s.gate.Cursor(); cursor != s.watched {
		s.watched = cursor
		s.watchdog.Touch(cursor, now)
	}
}

func (s *Session) onFetch(ev tailer.Event) {
	if ev.Epoch != s.gate.Epoch() || !s.started[ev.Ordinal] {
		return
	}
	s.dirty = true
	now := time.Now()
	s.watchdog.Touch(ev.Ordinal, now)
	if s.delayed == ev.Ordinal {
		s.delayed = -1
	}
	ref, _ := s.binder.Current()
	switch ev.Kind {
	case tailer.EventLine:
		s.acc.Append(ev.Ordinal, ev.Line)
		if len(s.lineObservers) == 0 {
			return
		}
		line := Line{Time: now, Identity: ref.Identity, Container: s.acc.Pane(ev.Ordinal).Name, Ordinal: ev.Ordinal, Text: ev.Line}
		for _, o := range s.lineObservers {
			o.ObserveLine(line)
		}
	case tailer.EventDone:
		s.acc.Finish(ev.Ordinal, ev.Err)
		if ev.Err != nil {
			s.log.Error(ev.Err, "container log stream failed", "ordinal", ev.Ordinal)
		}
		pane := s.acc.Pane(ev.Ordinal)
		for _, po := range s.paneObservers {
			po.PaneCompleted(ref.Identity, pane)
		}
		if cursor, advanced := s.gate.Complete(ev.Epoch, ev.Ordinal); advanced {
			s.log.V(1).Info("render cursor advanced", "cursor", cursor)
			s.mount()
		}
	}
}

func (s *Session) checkStall(now time.Time) {
	ordinal, delayed := s.watchdog.Check(now)
	if !delayed || ordinal >= s.gate.Len() || s.gate.IsComplete(ordinal) {
		if s.delayed >= 0 && !delayed {
			s.delayed = -1
			s.dirty = true
		}
		return
	}
	if s.delayed != ordinal {
		s.delayed = ordinal
		s.dirty = true
		s.log.Info(gate.DelayedNotice, "ordinal", ordinal)
	}
}

func (s *Session) finished() (bool, error) {
	if s.cfg.KeepAlive {
		return false, nil
	}
	if !s.cfg.Follow {
		if !s.resolverDone {
			return false, nil
		}
		if s.err != nil {
			return true, s.err
		}
		if s.gate.Len() == 0 || s.gate.Done() {
			return true, nil
		}
		cursor := s.gate.Cursor()
		if !s.started[cursor] && s.acc.Status(cursor).Skip() {
			return true, &StalledError{Container: s.acc.Pane(cursor).Name, Ordinal: cursor}
		}
		return false, nil
	}
	if !s.cfg.ExitWhenDone {
		return false, nil
	}
	if s.err != nil && s.resolverDone {
		return true, s.err
	}
	_, pod, src := s.Bound()
	if pod == nil || s.discovering || !s.gate.Done() {
		return false, nil
	}
	return src == resource.SourceArchive || podFinished(pod), nil
}

func podFinished(pod *corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}

func (s *Session) publish() {
	ref, epoch := s.binder.Current()
	_, src := s.binder.Retained()
	v := &View{
		Epoch:       epoch,
		Identity:    ref.Identity,
		TaskName:    ref.DisplayName(),
		Source:      src,
		Loading:     s.loading,
		Discovering: s.discovering,
		Err:         s.err,
		Cursor:      s.gate.Cursor(),
		Total:       s.gate.Len(),
		At:          time.Now(),
	}
	if s.err == nil {
		v.Panes = s.acc.Panes()
		if s.delayed >= 0 {
			v.Delayed = s.acc.Pane(s.delayed).Name
		}
	}
	s.view.Store(v)
	s.dirty = false
	for _, o := range s.observers {
		o.ObserveView(v)
	}
}
