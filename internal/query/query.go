// Package query is the thin validating layer between the boundary server
// and storage: parameter validation, relative-time resolution, composite
// analysis responses, and a per-process concurrency cap.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/storage"
)

const (
	defaultConcurrency = 8
	admissionWait      = 2 * time.Second
)

// Service wraps a Store behind a concurrency cap so a burst of callers
// can't starve storage; excess callers wait briefly in FIFO order, then
// fail with a Busy error.
type Service struct {
	store *storage.Store
	sem   chan struct{}
}

func New(store *storage.Store, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{store: store, sem: make(chan struct{}, concurrency)}
}

// admit acquires a concurrency slot, waiting up to admissionWait before
// reporting Busy. The channel's FIFO delivery order (for blocked
// senders) gives waiting callers first-come-first-served admission.
func (s *Service) admit(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	default:
	}

	timer := time.NewTimer(admissionWait)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-timer.C:
		return nil, errkind.New(errkind.Busy, fmt.Errorf("query: concurrency cap reached"))
	case <-ctx.Done():
		return nil, errkind.New(errkind.Cancelled, ctx.Err())
	}
}

// Query validates f and runs it under the concurrency cap.
func (s *Service) Query(ctx context.Context, f storage.Filter) (storage.Result, error) {
	if err := validateLimit(f.Limit); err != nil {
		return storage.Result{}, err
	}
	release, err := s.admit(ctx)
	if err != nil {
		return storage.Result{}, err
	}
	defer release()
	return s.store.Query(ctx, f)
}

// Search validates opts and runs text search under the concurrency cap.
func (s *Service) Search(ctx context.Context, text string, opts storage.SearchOptions) (storage.SearchResult, error) {
	if text == "" {
		return storage.SearchResult{}, errkind.New(errkind.Validation, fmt.Errorf("query: search text must not be empty"))
	}
	release, err := s.admit(ctx)
	if err != nil {
		return storage.SearchResult{}, err
	}
	defer release()
	return s.store.Search(ctx, text, opts)
}

// Stats runs an aggregate stats query under the concurrency cap.
func (s *Service) Stats(ctx context.Context, f storage.Filter) (storage.Stats, error) {
	release, err := s.admit(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	defer release()
	return s.store.Stats(ctx, f)
}

// AnalysisParams is the input to Analysis; GroupBy and TopK only apply to
// the kinds that use them (performance groups by an attribute key,
// errors/patterns cluster top-K templates).
type AnalysisParams struct {
	Kind    string
	Filter  storage.Filter
	GroupBy string
	TopK    int
}

// Analysis dispatches to the storage-layer analysis method matching
// params.Kind under the concurrency cap.
func (s *Service) Analysis(ctx context.Context, params AnalysisParams) (any, error) {
	release, err := s.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	groupBy := params.GroupBy
	if groupBy == "" {
		groupBy = "path"
	}
	topK := params.TopK
	if topK <= 0 {
		topK = 10
	}

	switch params.Kind {
	case "performance":
		return s.store.Performance(ctx, params.Filter, groupBy)
	case "errors":
		return s.store.Errors(ctx, params.Filter, topK)
	case "patterns":
		return s.store.Patterns(ctx, params.Filter, topK)
	case "trends":
		return s.store.Trends(ctx, params.Filter)
	case "anomalies":
		return s.store.Anomalies(ctx, params.Filter)
	default:
		return nil, errkind.New(errkind.Validation, fmt.Errorf("query: unknown analysis kind %q", params.Kind))
	}
}

func validateLimit(limit int) error {
	if limit == 0 {
		return nil
	}
	if limit < 1 || limit > storage.MaxLimit {
		return errkind.New(errkind.Validation, fmt.Errorf("query: limit must be in [1,%d]", storage.MaxLimit))
	}
	return nil
}

// ResolveTimeRange turns possibly-relative since/until expressions into
// an absolute TimeRange, defaulting until to now when omitted.
func ResolveTimeRange(sinceExpr, untilExpr string) (storage.TimeRange, error) {
	now := time.Now().UTC()
	var since, until time.Time
	var err error

	if sinceExpr != "" {
		since, err = storage.ParseRelative(sinceExpr, now)
		if err != nil {
			return storage.TimeRange{}, errkind.New(errkind.Validation, err)
		}
	}
	if untilExpr != "" {
		until, err = storage.ParseRelative(untilExpr, now)
		if err != nil {
			return storage.TimeRange{}, errkind.New(errkind.Validation, err)
		}
	} else {
		until = now
	}
	if !since.IsZero() && since.After(until) {
		return storage.TimeRange{}, errkind.New(errkind.Validation, fmt.Errorf("query: since must not be after until"))
	}
	return storage.TimeRange{Since: since, Until: until}, nil
}

// ResolveRelativeTimerange resolves a single relative-duration expression
// ("1h", "15m") into the window ending now, the `timerange` convenience
// parameter accepted alongside the separate since/until pair.
func ResolveRelativeTimerange(expr string) (storage.TimeRange, error) {
	now := time.Now().UTC()
	since, err := storage.ParseRelative(expr, now)
	if err != nil {
		return storage.TimeRange{}, errkind.New(errkind.Validation, err)
	}
	return storage.TimeRange{Since: since, Until: now}, nil
}
