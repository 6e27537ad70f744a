// File: internal/tailer/fetcher.go
// Brief: Per-container log fetch with retry, line scanning and a single terminal event.

// Package tailer fetches container logs from the cluster or the archive and
// reports them as epoch-tagged line and completion events.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/example/tklogs/internal/containers"
	"github.com/example/tklogs/internal/resource"
)

const (
	logScannerInitial = 64 * 1024
	logScannerMax     = 1024 * 1024

	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 2 * time.Second

	// Without follow a container that never starts should not pin the gate forever.
	nonFollowRetries = 8
)

// EventKind distinguishes log lines from the terminal event.
type EventKind int

const (
	EventLine EventKind = iota
	EventDone
)

// Event is emitted by a fetch task. Every task that is not cancelled emits
// exactly one EventDone, after all of its lines.
type Event struct {
	Kind    EventKind
	Epoch   uint64
	Ordinal int
	Line    string
	Err     error
}

// Task is one container fetch scoped to an epoch.
type Task struct {
	Epoch   uint64
	Ordinal int
	Target  Target
	Source  resource.Source
	Status  containers.RuntimeStatus
}

// Fetcher runs container fetch tasks.
type Fetcher struct {
	sources        Sources
	opts           FetchOptions
	log            logr.Logger
	minBackoff     time.Duration
	maxBackoff     time.Duration
	scannerBuffers sync.Pool
}

// NewFetcher builds a Fetcher that reads from sources with opts.
func NewFetcher(sources Sources, opts FetchOptions, logger logr.Logger) *Fetcher {
	return &Fetcher{
		sources:    sources,
		opts:       opts,
		log:        logger.WithName("fetcher"),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		scannerBuffers: sync.Pool{
			New: func() any {
				buf := make([]byte, logScannerInitial)
				return &buf
			},
		},
	}
}

// Options returns the fetch options used for every task.
func (f *Fetcher) Options() FetchOptions { return f.opts }

// Run fetches one container and reports through emit. Once ctx is cancelled the
// task is stale and emits nothing more.
func (f *Fetcher) Run(ctx context.Context, task Task, emit func(Event)) {
	done := func(err error) {
		if ctx.Err() != nil {
			return
		}
		emit(Event{Kind: EventDone, Epoch: task.Epoch, Ordinal: task.Ordinal, Err: err})
	}
	src, err := f.sources.For(task.Source)
	if err != nil {
		done(err)
		return
	}
	t := task.Target

	backoff := f.minBackoff
	attempts := 0
	wait := func() bool {
		attempts++
		if !f.opts.Follow && attempts > nonFollowRetries {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < f.maxBackoff {
			backoff *= 2
			if backoff > f.maxBackoff {
				backoff = f.maxBackoff
			}
		}
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}
		f.log.V(1).Info("starting container stream", "target", t.String(), "source", task.Source.String(), "status", task.Status.String(), "follow", f.opts.Follow, "tailLines", f.opts.TailLines)
		stream, err := src.Open(ctx, t, f.opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isRetryableLogStreamErr(err) {
				f.log.V(1).Info("log stream unavailable yet; retrying", "target", t.String(), "error", err.Error(), "backoff", backoff.String())
				if wait() {
					continue
				}
				if ctx.Err() != nil {
					return
				}
			}
			f.log.Error(err, "stream logs failed", "target", t.String())
			done(err)
			return
		}

		backoff = f.minBackoff
		lines, scanErr := f.scan(ctx, task, stream, emit)
		_ = stream.Close()
		switch {
		case ctx.Err() != nil:
			f.log.V(1).Info("container stream stopped by context", "target", t.String(), "reason", ctx.Err())
			return
		case scanErr != nil && !errors.Is(scanErr, io.EOF) && !isContextErr(scanErr):
			if lines == 0 && isRetryableLogStreamErr(scanErr) {
				f.log.V(1).Info("log stream ended transiently; retrying", "target", t.String(), "error", scanErr.Error(), "backoff", backoff.String())
				if wait() {
					continue
				}
			}
			f.log.Error(scanErr, "scanner error", "target", t.String())
			done(scanErr)
			return
		default:
			f.log.V(1).Info("container stream finished", "target", t.String(), "lines", lines)
			done(nil)
			return
		}
	}
}

func (f *Fetcher) scan(ctx context.Context, task Task, stream io.Reader, emit func(Event)) (int, error) {
	scanner := bufio.NewScanner(stream)
	buf := f.getScannerBuffer()
	defer f.putScannerBuffer(buf)
	scanner.Buffer(buf, logScannerMax)
	lines := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return lines, ctx.Err()
		}
		emit(Event{Kind: EventLine, Epoch: task.Epoch, Ordinal: task.Ordinal, Line: scanner.Text()})
		lines++
	}
	return lines, scanner.Err()
}

func isRetryableLogStreamErr(err error) bool {
	if err == nil {
		return false
	}

	// Prefer structured status payloads: client errors may be wrapped in a way
	// that loses the original message in err.Error().
	for e := err; e != nil; e = errors.Unwrap(e) {
		apiStatus, ok := e.(apierrors.APIStatus)
		if !ok {
			continue
		}
		if retryableMessage(apiStatus.Status().Message) {
			return true
		}
	}

	// The apiserver returns BadRequest with messages like:
	// "container \"X\" in pod \"Y\" is waiting to start: ContainerCreating"
	return retryableMessage(err.Error())
}

func retryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "is waiting to start") ||
		strings.Contains(msg, "containercreating") ||
		strings.Contains(msg, "podinitializing")
}

func (f *Fetcher) getScannerBuffer() []byte {
	if buf, ok := f.scannerBuffers.Get().(*[]byte); ok && buf != nil {
		return (*buf)[:logScannerInitial]
	}
	return make([]byte, logScannerInitial)
}

func (f *Fetcher) putScannerBuffer(buf []byte) {
	if buf == nil {
		return
	}
	if cap(buf) < logScannerInitial {
		buf = make([]byte, logScannerInitial)
	}
	buf = buf[:logScannerInitial]
	f.scannerBuffers.Put(&buf)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
