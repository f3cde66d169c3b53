package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/storage"
)

// boundedWriteContext bounds a direct synchronous write the same way
// Submit bounds a collector's admission into the ingest buffer, so a
// direct API writer gets the same busy signal under sustained storage
// contention instead of blocking indefinitely.
func (s *Server) boundedWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.pipeline == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.pipeline.SubmitDeadline())
}

func busyOrErr(writeCtx context.Context, err error) error {
	if errors.Is(writeCtx.Err(), context.DeadlineExceeded) {
		return errkind.New(errkind.Busy, fmt.Errorf("rpcserver: storage busy: %w", err))
	}
	return err
}

// logWrite sanitizes and writes a single record directly to storage,
// bypassing the ingest pipeline so the id can be returned synchronously.
func (s *Server) logWrite(ctx context.Context, params json.RawMessage) (any, error) {
	rec, err := record.ParseWrite(params)
	if err != nil {
		return nil, errkind.New(errkind.Validation, err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = parseTimestampOrNow("")
	}

	sanitized, outcome := s.sanitizer.Apply(rec)
	if outcome.Dropped {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: record dropped: %s", outcome.Reason))
	}

	writeCtx, cancel := s.boundedWriteContext(ctx)
	defer cancel()
	ids, err := s.store.Write(writeCtx, []record.LogRecord{sanitized})
	if err != nil {
		return nil, busyOrErr(writeCtx, err)
	}
	return map[string]any{"id": ids[0]}, nil
}

func (s *Server) logWriteBatch(ctx context.Context, params json.RawMessage) (any, error) {
	var payload struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := decodeParams(params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Records) == 0 {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: records must not be empty"))
	}

	batch := make([]record.LogRecord, 0, len(payload.Records))
	for _, raw := range payload.Records {
		rec, err := record.ParseWrite(raw)
		if err != nil {
			return nil, errkind.New(errkind.Validation, err)
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = parseTimestampOrNow("")
		}
		sanitized, outcome := s.sanitizer.Apply(rec)
		if outcome.Dropped {
			continue
		}
		batch = append(batch, sanitized)
	}
	if len(batch) == 0 {
		return map[string]any{"ids": []int64{}}, nil
	}

	writeCtx, cancel := s.boundedWriteContext(ctx)
	defer cancel()
	ids, err := s.store.Write(writeCtx, batch)
	if err != nil {
		return nil, busyOrErr(writeCtx, err)
	}
	return map[string]any{"ids": ids}, nil
}

func (s *Server) logQuery(ctx context.Context, params json.RawMessage) (any, error) {
	var p filterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	f, err := p.toFilter()
	if err != nil {
		return nil, err
	}
	return s.query.Query(ctx, f)
}

func (s *Server) logSearch(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		filterParams
		Highlight     bool `json:"highlight"`
		CaseSensitive bool `json:"case_sensitive"`
		Regex         bool `json:"regex"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: text is required"))
	}

	var timeRange *storage.TimeRange
	switch {
	case p.Timerange != "":
		tr, err := query.ResolveRelativeTimerange(p.Timerange)
		if err != nil {
			return nil, err
		}
		timeRange = &tr
	case p.Since != "" || p.Until != "":
		tr, err := query.ResolveTimeRange(p.Since, p.Until)
		if err != nil {
			return nil, err
		}
		timeRange = &tr
	}

	return s.query.Search(ctx, p.Text, storage.SearchOptions{
		TimeRange:     timeRange,
		Highlight:     p.Highlight,
		MaxResults:    p.Limit,
		CaseSensitive: p.CaseSensitive,
		Regex:         p.Regex,
	})
}

func (s *Server) logStats(ctx context.Context, params json.RawMessage) (any, error) {
	var p filterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	f, err := p.toFilter()
	if err != nil {
		return nil, err
	}
	return s.query.Stats(ctx, f)
}

func (s *Server) logAnalysis(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		filterParams
		Kind    string `json:"kind"`
		GroupBy string `json:"group_by"`
		TopK    int    `json:"top_k"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	f, err := p.toFilter()
	if err != nil {
		return nil, err
	}
	return s.query.Analysis(ctx, query.AnalysisParams{
		Kind:    p.Kind,
		Filter:  f,
		GroupBy: p.GroupBy,
		TopK:    p.TopK,
	})
}
