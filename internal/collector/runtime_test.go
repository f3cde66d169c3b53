package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/record"
)

type fakeAdapter struct {
	mu         sync.Mutex
	startCalls int
	startErr   error
	failTimes  int
	stopErr    error
}

func (f *fakeAdapter) OnStart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startCalls <= f.failTimes {
		return errors.New("start failed")
	}
	return f.startErr
}

func (f *fakeAdapter) OnStop(ctx context.Context) error      { return f.stopErr }
func (f *fakeAdapter) CheckHealth(ctx context.Context) error { return nil }
func (f *fakeAdapter) Derived() map[string]any               { return map[string]any{} }

func collectInto(sink *[]record.LogRecord, mu *sync.Mutex) Sink {
	return func(ctx context.Context, rec record.LogRecord) (SinkResult, error) {
		mu.Lock()
		defer mu.Unlock()
		*sink = append(*sink, rec)
		return SinkResult{}, nil
	}
}

func TestRuntime_StartTransitionsToRunning(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := &fakeAdapter{}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{})

	rt.Start(context.Background())

	require.Equal(t, StateRunning, rt.Snapshot().State)
}

func TestRuntime_CollectDropsWhenNotRunning(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := &fakeAdapter{}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{})

	rt.Collect(record.LogRecord{Source: "test", Message: "dropped"})

	snap := rt.Snapshot()
	require.Equal(t, int64(1), snap.Counters.RecordsDropped)
	mu.Lock()
	require.Empty(t, collected)
	mu.Unlock()
}

func TestRuntime_CollectForwardsWhenRunning(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := &fakeAdapter{}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{})
	rt.Start(context.Background())

	rt.Collect(record.LogRecord{Source: "test", Message: "hello"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, collected, 1)
	require.Equal(t, "test", collected[0].Collector)
	require.False(t, collected[0].CollectedAt.IsZero())
}

func TestRuntime_AutoRestartAfterRetriesSucceeds(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := &fakeAdapter{failTimes: 2}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{
		AutoRestart: true,
		RetryDelay:  10 * time.Millisecond,
		MaxRetries:  5,
	})

	rt.Start(context.Background())
	require.Equal(t, StateError, rt.Snapshot().State)

	require.Eventually(t, func() bool {
		return rt.Snapshot().State == StateRunning
	}, time.Second, 5*time.Millisecond)

	snap := rt.Snapshot()
	require.Equal(t, 2, snap.RetriesUsed)
}

func TestRuntime_PanicInOnStartIsIsolated(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := panicAdapter{}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{})

	require.NotPanics(t, func() { rt.Start(context.Background()) })
	require.Equal(t, StateError, rt.Snapshot().State)
}

type panicAdapter struct{}

func (panicAdapter) OnStart(ctx context.Context) error    { panic("boom") }
func (panicAdapter) OnStop(ctx context.Context) error     { return nil }
func (panicAdapter) CheckHealth(ctx context.Context) error { return nil }
func (panicAdapter) Derived() map[string]any               { return nil }

func TestRuntime_PauseResume(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	adapter := &fakeAdapter{}
	rt := NewRuntime("test", adapter, collectInto(&collected, &mu), RuntimeConfig{})
	rt.Start(context.Background())

	rt.Pause()
	require.Equal(t, StatePaused, rt.Snapshot().State)

	rt.Resume()
	require.Equal(t, StateRunning, rt.Snapshot().State)
}

func TestRegistry_ToggleUnknownCollectorErrors(t *testing.T) {
	reg := NewRegistry()
	err := reg.Toggle("nonexistent", true)
	require.Error(t, err)
}

func TestRegistry_RegisterDuplicateErrors(t *testing.T) {
	reg := NewRegistry()
	adapter := &fakeAdapter{}
	noopSink := func(context.Context, record.LogRecord) (SinkResult, error) { return SinkResult{}, nil }
	_, err := reg.Register("dup", adapter, noopSink, RuntimeConfig{})
	require.NoError(t, err)
	_, err = reg.Register("dup", adapter, noopSink, RuntimeConfig{})
	require.Error(t, err)
}
