package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/sanitize"
	"github.com/prasad/loghub/internal/storage"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *storage.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	store := storage.New(db, 16, 500)
	t.Cleanup(func() { store.Close() })

	dl, err := NewDeadLetterWriter(filepath.Join(t.TempDir(), "dead-letter.ndjson"))
	require.NoError(t, err)
	t.Cleanup(func() { dl.Close() })

	sanitizer := sanitize.New(sanitize.Config{})
	p := New(cfg, sanitizer, store, dl)
	return p, store
}

func TestPipeline_SubmitAndFlushByCount(t *testing.T) {
	p, store := newTestPipeline(t, Config{MaxBatch: 2, FlushInterval: time.Hour, BufferSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	_, err := p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "one", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "two", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		result, err := store.Query(context.Background(), storage.Filter{})
		return err == nil && result.TotalMatches == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_FlushByTicker(t *testing.T) {
	p, store := newTestPipeline(t, Config{MaxBatch: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	_, err := p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "lonely", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		result, err := store.Query(context.Background(), storage.Filter{})
		return err == nil && result.TotalMatches == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_StampMonotonic(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ts := time.Now()

	first := p.stampMonotonic(record.LogRecord{Source: "api", Timestamp: ts})
	second := p.stampMonotonic(record.LogRecord{Source: "api", Timestamp: ts})

	require.True(t, second.Timestamp.After(first.Timestamp))
}

func TestPipeline_BufferOverflowDropsOldest(t *testing.T) {
	p, _ := newTestPipeline(t, Config{BufferSize: 2, MaxBatch: 1000, FlushInterval: time.Hour, SubmitDeadline: time.Millisecond})

	_, err := p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "first", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "second", Timestamp: time.Now()})
	require.NoError(t, err)
	outcome, err := p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "third", Timestamp: time.Now()})
	require.NoError(t, err)
	require.True(t, outcome.Busy)

	require.Equal(t, int64(1), p.counters.DroppedBuffer.Load())
	require.Len(t, p.buffer, 2)
}

func TestPipeline_SubmitReturnsCancelledOnContextDone(t *testing.T) {
	p, _ := newTestPipeline(t, Config{BufferSize: 1, MaxBatch: 1000, FlushInterval: time.Hour, SubmitDeadline: time.Second})

	_, err := p.Submit(context.Background(), record.LogRecord{Source: "api", Message: "fills buffer", Timestamp: time.Now()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Submit(ctx, record.LogRecord{Source: "api", Message: "blocked", Timestamp: time.Now()})
	require.Error(t, err)
}

func TestPipeline_DeadLettersAfterRetryExhaustion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	store := storage.New(db, 16, 500)
	require.NoError(t, store.Close()) // closed DB makes every write fail

	deadLetterPath := filepath.Join(t.TempDir(), "dead-letter.ndjson")
	dl, err := NewDeadLetterWriter(deadLetterPath)
	require.NoError(t, err)
	defer dl.Close()

	sanitizer := sanitize.New(sanitize.Config{})
	p := New(Config{RetryBaseDelay: time.Millisecond, RetryMaxAttempts: 2}, sanitizer, store, dl)

	p.flush(context.Background(), []record.LogRecord{
		{Source: "api", Message: "will fail", Timestamp: time.Now()},
	})

	require.Equal(t, int64(1), p.counters.DeadLettered.Load())

	contents, err := os.ReadFile(deadLetterPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "will fail")
}
