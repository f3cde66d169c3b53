// Package sanitize implements the filter & sanitizer stage applied to
// every record between collection and storage. It is pure and
// side-effect free except for the atomic Counters, so it is safe to call
// concurrently from multiple producers.
package sanitize

import (
	"strings"

	"github.com/prasad/loghub/internal/metrics"
	"github.com/prasad/loghub/internal/record"
)

const (
	defaultMaxMessageBytes  = 64 * 1024
	defaultMaxMetadataBytes = 256 * 1024
	stackTraceKeepChars     = 497
)

// Config mirrors the relevant subset of config.Config needed by the
// sanitizer, kept narrow so Sanitizer doesn't depend on the config
// package directly.
type Config struct {
	DropPatterns     []string
	SensitiveKeys    []string
	MaxMessageBytes  int
	MaxMetadataBytes int
	RateLimitRPS     float64
	BurstLimit       int
}

type Sanitizer struct {
	cfg      Config
	counters *Counters
	limiters *RateLimiters
}

func New(cfg Config) *Sanitizer {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMetadataBytes <= 0 {
		cfg.MaxMetadataBytes = defaultMaxMetadataBytes
	}
	return &Sanitizer{
		cfg:      cfg,
		counters: &Counters{},
		limiters: NewRateLimiters(cfg.RateLimitRPS, cfg.BurstLimit),
	}
}

func (s *Sanitizer) Counters() *Counters { return s.counters }

// Outcome reports what happened to a record passed through Apply.
type Outcome struct {
	Dropped bool
	Reason  string // "drop_pattern" | "rate_limited"
}

// Apply runs drop-patterns, redaction, size bounds, rate limiting and
// stack-trace trimming on rec, mutating a clone in place and returning it
// alongside an Outcome. rec itself is never mutated.
//
// Drop patterns short-circuit before any other work; rate limiting is
// checked after redaction/size-bounding so that counters reflect work
// actually done, but before the record is handed onward. Rate limiting
// and drop patterns are the only two paths that discard the record
// entirely.
func (s *Sanitizer) Apply(rec record.LogRecord) (record.LogRecord, Outcome) {
	if s.matchesDropPattern(rec.Message) {
		s.counters.DroppedByFilter.Add(1)
		metrics.IngestDroppedFilter.Inc()
		return rec, Outcome{Dropped: true, Reason: "drop_pattern"}
	}

	out := rec
	out.Metadata = rec.Metadata.Clone()
	s.redact(&out)
	s.boundSizes(&out)
	s.trimStackTrace(&out)

	if !s.limiters.Allow(out.Source) {
		s.counters.DroppedByRateLimit.Add(1)
		metrics.IngestDroppedRateLimit.Inc()
		return out, Outcome{Dropped: true, Reason: "rate_limited"}
	}

	return out, Outcome{}
}

func (s *Sanitizer) matchesDropPattern(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range s.cfg.DropPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) redact(rec *record.LogRecord) {
	meta := rec.Metadata
	if meta == nil {
		return
	}
	redactedAny := false
	walkRedact(meta, s.cfg.SensitiveKeys, &redactedAny)
	if redactedAny {
		s.counters.Redacted.Add(1)
	}
}

func walkRedact(m map[string]any, sensitiveKeys []string, redacted *bool) {
	for k, v := range m {
		if isSensitiveKey(k, sensitiveKeys) {
			if _, already := v.(string); !already || v != "[REDACTED]" {
				m[k] = "[REDACTED]"
				*redacted = true
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			walkRedact(nested, sensitiveKeys, redacted)
		}
	}
}

func isSensitiveKey(key string, sensitiveKeys []string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if s == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) boundSizes(rec *record.LogRecord) {
	markTruncated := func() {
		if rec.Metadata == nil {
			rec.Metadata = record.Attrs{}
		}
		rec.Metadata["truncated"] = true
	}

	if len(rec.Message) > s.cfg.MaxMessageBytes {
		rec.Message = truncateUTF8(rec.Message, s.cfg.MaxMessageBytes) + "…[TRUNCATED]"
		markTruncated()
		s.counters.Truncated.Add(1)
	}

	meta := rec.Metadata
	if meta == nil {
		return
	}
	if size := estimateJSONSize(meta); size > s.cfg.MaxMetadataBytes {
		truncateMetadata(meta, s.cfg.MaxMetadataBytes)
		markTruncated()
		s.counters.Truncated.Add(1)
	}
}

func (s *Sanitizer) trimStackTrace(rec *record.LogRecord) {
	if !rec.Level.AtLeast(record.LevelError) {
		return
	}
	meta := rec.Metadata
	if meta == nil {
		return
	}
	stack, ok := meta["stack"].(string)
	if !ok || len(stack) <= stackTraceKeepChars {
		return
	}
	meta["stack"] = truncateUTF8(stack, stackTraceKeepChars) + "..."
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte
// rune, keeping truncated text valid UTF-8.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := []byte(s)[:n]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	last := b[len(b)-1]
	return last&0xC0 != 0x80
}

// estimateJSONSize is a cheap upper bound on the encoded size of a
// metadata bag, avoiding a full json.Marshal on every record.
func estimateJSONSize(meta map[string]any) int {
	total := 2 // braces
	for k, v := range meta {
		total += len(k) + 4
		total += estimateValueSize(v)
	}
	return total
}

func estimateValueSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t) + 2
	case map[string]any:
		return estimateJSONSize(t)
	case []any:
		total := 2
		for _, item := range t {
			total += estimateValueSize(item)
		}
		return total
	default:
		return 8
	}
}

// truncateMetadata drops keys (never "truncated") until the estimated
// size fits — a blunt but predictable strategy for an oversize free-form
// bag. The caller adds the truncated marker.
func truncateMetadata(meta map[string]any, maxBytes int) {
	for estimateJSONSize(meta) > maxBytes && len(meta) > 0 {
		for k := range meta {
			if k == "truncated" {
				continue
			}
			delete(meta, k)
			break
		}
	}
}
