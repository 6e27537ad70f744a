// File: internal/castutil/castutil.go
// Brief: Start helper for the log mirror server.

// Package castutil starts background cast servers and reports their failures.
package castutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
)

// startupGrace is how long a server must stay up before it counts as started.
var startupGrace = 250 * time.Millisecond

// Runner is a server that blocks until ctx is done or it fails.
type Runner interface {
	Run(ctx context.Context) error
}

// StartCastServer runs srv in the background. A failure within the startup
// grace period (typically a bind error) is returned; later failures are logged
// and echoed to errOut.
func StartCastServer(ctx context.Context, srv Runner, label string, logger logr.Logger, errOut io.Writer) error {
	if srv == nil {
		return nil
	}
	exited := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		exited <- err
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case err := <-exited:
		if err == nil {
			return nil
		}
		report(errOut, "%s failed: %v\n", label, err)
		return fmt.Errorf("%s: %w", label, err)
	case <-timer.C:
	}
	go func() {
		if err := <-exited; err != nil {
			logger.Error(err, "cast server exited", "server", label)
			report(errOut, "%s exited: %v\n", label, err)
		}
	}()
	return nil
}

func report(w io.Writer, format string, args ...any) {
	if w != nil {
		fmt.Fprintf(w, format, args...)
	}
}
