// Package logging builds the logr.Logger shared by every tklogs component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Option tweaks logger construction.
type Option func(*crzap.Options)

// WithWriter redirects log output. The TUI uses it to keep log lines off the screen.
func WithWriter(w io.Writer) Option {
	return func(o *crzap.Options) {
		if w != nil {
			o.DestWriter = w
		}
	}
}

// New returns a controller-runtime logger configured with the given level string.
func New(level string, options ...Option) (logr.Logger, error) {
	zapLevel, development, err := ParseLevel(level)
	if err != nil {
		return logr.Logger{}, err
	}
	opts := crzap.Options{Development: development, DestWriter: os.Stderr}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	for _, opt := range options {
		opt(&opts)
	}
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}

// ParseLevel maps a user supplied level to a zap level. Debug also turns on development mode.
func ParseLevel(level string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, true, nil
	case "info", "":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
}

// AtLeast reports whether level enables messages at threshold.
func AtLeast(level string, threshold zapcore.Level) bool {
	parsed, _, err := ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	return parsed <= threshold
}
