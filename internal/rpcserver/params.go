package rpcserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/storage"
)

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errkind.New(errkind.Validation, fmt.Errorf("rpcserver: invalid params: %w", err))
	}
	return nil
}

// filterParams mirrors storage.Filter but with since/until as relative or
// absolute expressions that get resolved against wall-clock time at
// dispatch.
type filterParams struct {
	Sources   []string `json:"sources"`
	Levels    []string `json:"levels"`
	MinLevel  string   `json:"min_level"`
	Timerange string   `json:"timerange"`
	Since     string   `json:"since"`
	Until     string   `json:"until"`
	TraceID   string   `json:"trace_id"`
	TagAllOf  []string `json:"tag_all_of"`
	Text      string   `json:"text"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
	Order     string   `json:"order"`
}

func (p filterParams) toFilter() (storage.Filter, error) {
	f := storage.Filter{
		Sources:  p.Sources,
		TraceID:  p.TraceID,
		TagAllOf: p.TagAllOf,
		Text:     p.Text,
		Limit:    p.Limit,
		Offset:   p.Offset,
	}

	for _, name := range p.Levels {
		lvl, err := record.ParseLevel(name)
		if err != nil {
			return storage.Filter{}, errkind.New(errkind.Validation, err)
		}
		f.Levels = append(f.Levels, lvl)
	}
	if p.MinLevel != "" {
		lvl, err := record.ParseLevel(p.MinLevel)
		if err != nil {
			return storage.Filter{}, errkind.New(errkind.Validation, err)
		}
		f.MinLevel = &lvl
	}

	if p.Timerange != "" {
		tr, err := query.ResolveRelativeTimerange(p.Timerange)
		if err != nil {
			return storage.Filter{}, err
		}
		since, until := tr.Since, tr.Until
		f.Since = &since
		f.Until = &until
	} else {
		tr, err := query.ResolveTimeRange(p.Since, p.Until)
		if err != nil {
			return storage.Filter{}, err
		}
		if p.Since != "" {
			since := tr.Since
			f.Since = &since
		}
		if p.Until != "" {
			until := tr.Until
			f.Until = &until
		}
	}

	switch p.Order {
	case "", string(storage.OrderTimestampDesc):
		f.Order = storage.OrderTimestampDesc
	case string(storage.OrderTimestampAsc):
		f.Order = storage.OrderTimestampAsc
	default:
		return storage.Filter{}, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: unknown order %q", p.Order))
	}

	return f, nil
}

func parseTimestampOrNow(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
