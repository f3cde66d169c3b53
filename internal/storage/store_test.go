package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	store := New(db, 16, 500)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(source string, level record.Level, message string, ts time.Time) record.LogRecord {
	return record.LogRecord{
		Timestamp: ts,
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  record.Attrs{},
	}
}

func TestWrite_AssignsIDsAndPublishesFanout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "request handled", now),
		sampleRecord("api", record.LevelError, "request failed", now.Add(time.Millisecond)),
	}

	ids, err := store.Write(ctx, batch)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.NotZero(t, ids[0])
	require.Greater(t, ids[1], ids[0])

	select {
	case published := <-store.Fanout():
		require.Len(t, published, 2)
		require.Equal(t, ids[0], published[0].ID)
	case <-time.After(time.Second):
		t.Fatal("expected a fanout publish after a successful write")
	}
}

func TestWrite_RejectsOversizeBatch(t *testing.T) {
	store := newTestStore(t)
	store.maxBatch = 1
	ctx := context.Background()

	batch := []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "one", time.Now()),
		sampleRecord("api", record.LevelInfo, "two", time.Now()),
	}

	_, err := store.Write(ctx, batch)
	require.Error(t, err)
}

func TestWrite_EmptyBatchIsNoop(t *testing.T) {
	store := newTestStore(t)
	ids, err := store.Write(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, ids)
}

func TestQuery_FiltersBySourceAndLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "info from api", base),
		sampleRecord("worker", record.LevelError, "error from worker", base.Add(time.Second)),
		sampleRecord("api", record.LevelWarn, "warn from api", base.Add(2*time.Second)),
	})
	require.NoError(t, err)

	result, err := store.Query(ctx, Filter{Sources: []string{"api"}})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalMatches)
	for _, rec := range result.Logs {
		require.Equal(t, "api", rec.Source)
	}

	minLevel := record.LevelWarn
	result, err = store.Query(ctx, Filter{MinLevel: &minLevel})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalMatches)
}

func TestQuery_DefaultOrderIsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "first", base),
		sampleRecord("api", record.LevelInfo, "second", base.Add(time.Second)),
	})
	require.NoError(t, err)

	result, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, result.Logs, 2)
	require.Equal(t, "second", result.Logs[0].Message)
	require.Equal(t, "first", result.Logs[1].Message)
}

func TestQuery_RejectsLimitOverMax(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Query(context.Background(), Filter{Limit: MaxLimit + 1})
	require.Error(t, err)
}

func TestSearch_FindsFTSMatchAndHighlights(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelError, "connection refused to database", now),
		sampleRecord("api", record.LevelInfo, "request completed successfully", now.Add(time.Second)),
	})
	require.NoError(t, err)

	result, err := store.Search(ctx, "refused", SearchOptions{Highlight: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalMatches)
	require.Len(t, result.Highlights, 1)
	require.Contains(t, result.Highlights[0].HighlightedText, "<mark>refused</mark>")
}

func TestSearch_RegexBypassesIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelError, "timeout after 503ms", now),
		sampleRecord("api", record.LevelInfo, "completed in 12ms", now.Add(time.Second)),
	})
	require.NoError(t, err)

	result, err := store.Search(ctx, `\d+ms`, SearchOptions{Regex: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalMatches)
}

func TestStats_ComputesErrorRateAndGroups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "ok", base),
		sampleRecord("api", record.LevelError, "boom", base.Add(time.Minute)),
		sampleRecord("worker", record.LevelFatal, "dead", base.Add(2*time.Minute)),
	})
	require.NoError(t, err)

	since := base.Add(-time.Minute)
	until := base.Add(time.Hour)
	stats, err := store.Stats(ctx, Filter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalLogs)
	require.Equal(t, 1, stats.ByLevel["error"])
	require.Equal(t, 1, stats.ByLevel["fatal"])
	require.InDelta(t, 2.0/3.0, stats.ErrorRate, 0.001)
	require.NotEmpty(t, stats.TimeDistribution)
}

func TestRunRetention_DeletesRowsOlderThanMaxAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelInfo, "stale entry", old),
		sampleRecord("api", record.LevelInfo, "fresh entry", recent),
	})
	require.NoError(t, err)

	deleted, err := store.RunRetention(ctx, RetentionPolicy{MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	result, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, result.Logs, 1)
	require.Equal(t, "fresh entry", result.Logs[0].Message)
}

func TestErrors_ClustersByNormalizedTemplate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Write(ctx, []record.LogRecord{
		sampleRecord("api", record.LevelError, "connection refused to 10.0.0.5:5432", now),
		sampleRecord("api", record.LevelError, "connection refused to 10.0.0.9:5432", now.Add(time.Second)),
		sampleRecord("api", record.LevelError, "disk full on /data", now.Add(2*time.Second)),
	})
	require.NoError(t, err)

	clusters, err := store.Errors(ctx, Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	require.Equal(t, 2, clusters[0].Count)
}

func TestAnomalies_FlagsOutlierBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var steady []record.LogRecord
	for i := 0; i < 15; i++ {
		steady = append(steady, sampleRecord("api", record.LevelInfo, "steady", base.Add(time.Duration(i)*time.Hour)))
	}
	_, err := store.Write(ctx, steady)
	require.NoError(t, err)

	var burst []record.LogRecord
	for i := 0; i < 1000; i++ {
		burst = append(burst, sampleRecord("api", record.LevelInfo, "burst", base.Add(20*time.Hour+time.Duration(i)*time.Millisecond)))
	}
	for start := 0; start < len(burst); start += 400 {
		end := start + 400
		if end > len(burst) {
			end = len(burst)
		}
		_, err := store.Write(ctx, burst[start:end])
		require.NoError(t, err)
	}

	since := base.Add(-time.Hour)
	until := base.Add(30 * time.Hour)
	anomalies, err := store.Anomalies(ctx, Filter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)
}
