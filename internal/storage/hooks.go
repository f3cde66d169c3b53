package storage

import (
	"context"
	"time"

	"github.com/prasad/loghub/internal/metrics"
)

// queryTimingHook feeds every statement's execution time into the storage
// query-duration histogram, following ClusterCockpit-cc-backend's
// sqlhooks.Wrap pattern for instrumenting the sql.Driver directly rather
// than wrapping every call site.
type queryTimingHook struct{}

type hookTimingKey struct{}

func (h *queryTimingHook) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	return context.WithValue(ctx, hookTimingKey{}, time.Now()), nil
}

func (h *queryTimingHook) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	if start, ok := ctx.Value(hookTimingKey{}).(time.Time); ok {
		metrics.StorageQueryDuration.Observe(time.Since(start).Seconds())
	}
	return ctx, nil
}
