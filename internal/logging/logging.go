// Package logging initializes the process-wide zerolog logger and hands
// out component-scoped child loggers, following the teacher corpus's
// context-carried-logger convention (CrlsMrls-dummybox's logger package).
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init sets the global log level and installs the default context logger.
// Must be called once at startup before any component logger is derived.
func Init(level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stdout
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	l := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &l
}

// For returns a logger scoped to a component name (e.g. "ingest",
// "storage", "collector.http"), to be attached to that component's
// goroutines and used for the lifetime of the component.
func For(component string) zerolog.Logger {
	base := zerolog.DefaultContextLogger
	if base == nil {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		base = &l
	}
	return base.With().Str("component", component).Logger()
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		if zerolog.DefaultContextLogger != nil {
			return zerolog.DefaultContextLogger
		}
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		return &l
	}
	return logger
}

// WithCorrelationID attaches a correlation/request id field to the logger
// carried by ctx and returns both the derived context and logger.
func WithCorrelationID(ctx context.Context, id string) (context.Context, *zerolog.Logger) {
	l := FromContext(ctx).With().Str("correlation_id", id).Logger()
	return l.WithContext(ctx), &l
}
