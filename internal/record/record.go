// Package record defines the canonical LogRecord wire and storage shape
// shared by ingest, storage, query and streaming.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Attrs is the free-form metadata bag. Leaf values are one of
// string|float64|bool|nil|[]any|map[string]any, matching encoding/json's
// default decode targets — callers that need stricter typing should use
// WalkStrings rather than type-asserting ad hoc.
type Attrs map[string]any

// Clone makes a deep copy of the attribute tree so mutation (e.g.
// redaction) never touches a caller's original map.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return t
	}
}

// LogRecord is the atomic unit persisted and streamed by the service.
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Metadata  Attrs     `json:"metadata,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	TraceID   *string   `json:"trace_id,omitempty"`

	// CollectedAt/Collector are stamped by the collector framework on
	// enrichment; direct API writers never set them.
	CollectedAt time.Time `json:"collected_at,omitempty"`
	Collector   string    `json:"collector,omitempty"`
}

// wireRecord mirrors LogRecord but is used only to enforce strict
// rejection of unknown top-level fields on decode.
type wireRecord struct {
	ID        *int64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Metadata  Attrs     `json:"metadata,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	TraceID   *string   `json:"trace_id,omitempty"`
}

// ParseWrite decodes a client-submitted record (log.write / log.writeBatch
// payload): id, collected_at and collector are never accepted from the
// wire, and unknown top-level keys are rejected. Unknown metadata keys are
// accepted leniently.
func ParseWrite(data []byte) (LogRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return LogRecord{}, fmt.Errorf("record: invalid record payload: %w", err)
	}
	if w.Source == "" {
		return LogRecord{}, fmt.Errorf("record: source is required")
	}
	if w.Message == "" {
		return LogRecord{}, fmt.Errorf("record: message is required")
	}

	return LogRecord{
		Timestamp: w.Timestamp,
		Level:     w.Level,
		Source:    w.Source,
		Message:   w.Message,
		Metadata:  w.Metadata,
		Tags:      w.Tags,
		TraceID:   w.TraceID,
	}, nil
}

// MarshalTimestamp renders t as RFC3339 with millisecond precision, the
// canonical on-the-wire timestamp format.
func MarshalTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z07:00")
}
