package download

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// DefaultLabel is the bulk download control label.
const DefaultLabel = "Download all"

// Producer performs a bulk download.
type Producer func(ctx context.Context) error

// Bulk runs a Producer at most once at a time. Failures are reported, never
// propagated: the control returns to idle and may be triggered again.
type Bulk struct {
	label    string
	producer Producer
	log      logr.Logger
	onDone   func(error)
	busy     atomic.Bool
	wg       sync.WaitGroup
}

// BulkOption configures a Bulk.
type BulkOption func(*Bulk)

// WithOnDone registers a callback invoked after every run with its error.
func WithOnDone(fn func(error)) BulkOption {
	return func(b *Bulk) { b.onDone = fn }
}

// NewBulk returns a Bulk. An empty label uses DefaultLabel; a nil producer
// disables the control.
func NewBulk(label string, producer Producer, logger logr.Logger, opts ...BulkOption) *Bulk {
	if label == "" {
		label = DefaultLabel
	}
	b := &Bulk{label: label, producer: producer, log: logger.WithName("bulk-download")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bulk) Label() string { return b.label }

// Available reports whether a producer was supplied.
func (b *Bulk) Available() bool { return b.producer != nil }

// Busy reports whether a run is pending.
func (b *Bulk) Busy() bool { return b.busy.Load() }

// Enabled reports whether Start would run the producer now.
func (b *Bulk) Enabled() bool { return b.Available() && !b.Busy() }

// Start runs the producer in the background. It returns false when the control
// is disabled or a run is already pending.
func (b *Bulk) Start(ctx context.Context) bool {
	if b.producer == nil || !b.busy.CompareAndSwap(false, true) {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.finish(b.invoke(ctx))
	}()
	return true
}

// Run runs the producer in the foreground and returns its error for display.
func (b *Bulk) Run(ctx context.Context) error {
	if b.producer == nil {
		return fmt.Errorf("%s is not available", b.label)
	}
	if !b.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%s is already running", b.label)
	}
	err := b.invoke(ctx)
	b.finish(err)
	return err
}

// Wait blocks until background runs have finished.
func (b *Bulk) Wait() { b.wg.Wait() }

func (b *Bulk) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bulk download panicked: %v", r)
		}
	}()
	return b.producer(ctx)
}

func (b *Bulk) finish(err error) {
	if err != nil {
		b.log.Error(err, "bulk download failed")
	} else {
		b.log.V(1).Info("bulk download finished")
	}
	b.busy.Store(false)
	if b.onDone != nil {
		b.onDone(err)
	}
}
