package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/storage"
)

func newTestService(t *testing.T, concurrency int) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	store := storage.New(db, 16, 500)
	t.Cleanup(func() { store.Close() })
	return New(store, concurrency)
}

func TestQuery_RejectsInvalidLimit(t *testing.T) {
	svc := newTestService(t, 4)
	_, err := svc.Query(context.Background(), storage.Filter{Limit: storage.MaxLimit + 1})
	require.Error(t, err)
	require.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestQuery_ReturnsWrittenRecords(t *testing.T) {
	svc := newTestService(t, 4)
	ctx := context.Background()

	_, err := svc.store.Write(ctx, []record.LogRecord{
		{Source: "api", Level: record.LevelInfo, Message: "hello", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	result, err := svc.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalMatches)
}

func TestAdmit_FailsBusyWhenSaturated(t *testing.T) {
	svc := newTestService(t, 1)

	release, err := svc.admit(context.Background())
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = svc.admit(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, errkind.Busy, errkind.KindOf(err))
	require.GreaterOrEqual(t, elapsed, admissionWait)
}

func TestResolveTimeRange_RejectsSinceAfterUntil(t *testing.T) {
	// "1h" resolves to now-1h (more recent); "2h" resolves to now-2h
	// (older) -- since ends up after until, which must be rejected.
	_, err := ResolveTimeRange("1h", "2h")
	require.Error(t, err)
}

func TestResolveTimeRange_DefaultsUntilToNow(t *testing.T) {
	tr, err := ResolveTimeRange("1h", "")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), tr.Until, 5*time.Second)
	require.True(t, tr.Since.Before(tr.Until))
}

func TestAnalysis_UnknownKindIsValidationError(t *testing.T) {
	svc := newTestService(t, 4)
	_, err := svc.Analysis(context.Background(), AnalysisParams{Kind: "bogus"})
	require.Error(t, err)
	require.Equal(t, errkind.Validation, errkind.KindOf(err))
}
