package sanitize

import (
	"testing"

	"github.com/prasad/loghub/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSanitizer() *Sanitizer {
	return New(Config{
		SensitiveKeys: []string{"password", "token", "secret", "key", "auth"},
		DropPatterns:  []string{"healthcheck ping"},
	})
}

func TestApply_RedactsSensitiveKeysRecursively(t *testing.T) {
	s := newTestSanitizer()
	rec := record.LogRecord{
		Source:  "auth",
		Message: "login",
		Metadata: record.Attrs{
			"user":     "alice",
			"password": "hunter2",
			"nested":   map[string]any{"auth_token": "abc123"},
		},
	}

	out, outcome := s.Apply(rec)
	require.False(t, outcome.Dropped)
	assert.Equal(t, "[REDACTED]", out.Metadata["password"])
	assert.Equal(t, "alice", out.Metadata["user"])
	assert.Equal(t, "[REDACTED]", out.Metadata["nested"].(map[string]any)["auth_token"])

	// original is untouched
	assert.Equal(t, "hunter2", rec.Metadata["password"])
}

func TestApply_DropPattern(t *testing.T) {
	s := newTestSanitizer()
	rec := record.LogRecord{Source: "http", Message: "HealthCheck Ping received"}
	_, outcome := s.Apply(rec)
	assert.True(t, outcome.Dropped)
	assert.Equal(t, "drop_pattern", outcome.Reason)
	assert.Equal(t, int64(1), s.Counters().Snapshot().DroppedByFilter)
}

func TestApply_TrimsStackTraceForErrorRecords(t *testing.T) {
	s := newTestSanitizer()
	longStack := make([]byte, 1000)
	for i := range longStack {
		longStack[i] = 'x'
	}
	rec := record.LogRecord{
		Source:  "svc",
		Level:   record.LevelError,
		Message: "boom",
		Metadata: record.Attrs{
			"stack": string(longStack),
		},
	}
	out, _ := s.Apply(rec)
	trimmed := out.Metadata["stack"].(string)
	assert.True(t, len(trimmed) < 1000)
	assert.Contains(t, trimmed, "...")
}

func TestApply_RateLimiting(t *testing.T) {
	s := New(Config{RateLimitRPS: 1, BurstLimit: 1})
	rec := record.LogRecord{Source: "svc", Message: "x"}

	_, first := s.Apply(rec)
	assert.False(t, first.Dropped)

	_, second := s.Apply(rec)
	assert.True(t, second.Dropped)
	assert.Equal(t, "rate_limited", second.Reason)
}

func TestApply_MessageTruncation(t *testing.T) {
	s := New(Config{MaxMessageBytes: 10})
	rec := record.LogRecord{Source: "svc", Message: "01234567890123456789"}
	out, _ := s.Apply(rec)
	assert.Contains(t, out.Message, "…[TRUNCATED]")
	assert.Equal(t, true, out.Metadata["truncated"])
}
