package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/metrics"
	"github.com/prasad/loghub/internal/record"
)

// RuntimeConfig tunes auto-restart and health-check behavior; every
// CollectorRuntime gets its own copy so collectors can be configured
// independently.
type RuntimeConfig struct {
	AutoRestart         bool
	RetryDelay          time.Duration
	MaxRetries          int
	HealthCheckInterval time.Duration
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// SinkResult reports how the sink admitted a collected record.
type SinkResult struct {
	// Busy is set when the downstream pipeline could not admit the
	// record promptly (its buffer stayed full past the configured
	// deadline) and had to drop an older queued record to make room.
	Busy bool
}

// Sink is how a collector hands a finished record to the rest of the
// system (normally ingest.Pipeline.Submit). ctx bounds how long the sink
// may block trying to admit the record.
type Sink func(ctx context.Context, rec record.LogRecord) (SinkResult, error)

// CollectorRuntime is the shared state machine every collector kind runs
// under. It owns transitions, auto-restart, failure isolation and
// counters; Adapter supplies only the kind-specific behavior.
type CollectorRuntime struct {
	name    string
	adapter Adapter
	sink    Sink
	cfg     RuntimeConfig

	mu          sync.Mutex
	state       State
	retriesUsed int
	lastError   string
	counters    Counters

	cancelHealth context.CancelFunc
}

func NewRuntime(name string, adapter Adapter, sink Sink, cfg RuntimeConfig) *CollectorRuntime {
	return &CollectorRuntime{
		name:    name,
		adapter: adapter,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		state:   StateStopped,
	}
}

func (r *CollectorRuntime) Name() string { return r.name }

// AdapterAs returns the underlying Adapter so a caller can type-assert it
// to an optional capability interface (e.g. Configurable).
func (r *CollectorRuntime) AdapterAs() Adapter { return r.adapter }

func (r *CollectorRuntime) setState(s State) {
	metrics.CollectorState.WithLabelValues(r.name, string(r.state)).Set(0)
	r.state = s
	metrics.CollectorState.WithLabelValues(r.name, string(s)).Set(1)
}

// Start transitions stopped/error -> starting -> running, catching a
// panic or error from OnStart and routing it through the same
// error-handling path as a runtime failure.
func (r *CollectorRuntime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateStopped && r.state != StateError {
		r.mu.Unlock()
		return
	}
	if r.state == StateStopped {
		r.retriesUsed = 0
	}
	r.setState(StateStarting)
	r.mu.Unlock()

	err := r.runGuarded(func() error { return r.adapter.OnStart(ctx) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.handleErrorLocked(ctx, err)
		return
	}
	r.setState(StateRunning)

	if r.cfg.HealthCheckInterval > 0 {
		healthCtx, cancel := context.WithCancel(context.Background())
		r.cancelHealth = cancel
		go r.healthLoop(healthCtx)
	}
}

// Stop transitions running/paused -> stopping -> stopped, bounded by
// timeout.
func (r *CollectorRuntime) Stop(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	r.setState(StateStopping)
	if r.cancelHealth != nil {
		r.cancelHealth()
		r.cancelHealth = nil
	}
	r.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := r.runGuarded(func() error { return r.adapter.OnStop(stopCtx) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.handleErrorLocked(ctx, err)
		return err
	}
	r.setState(StateStopped)
	return nil
}

func (r *CollectorRuntime) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		r.setState(StatePaused)
	}
}

func (r *CollectorRuntime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StatePaused {
		r.setState(StateRunning)
	}
}

// Collect enriches rec with collected_at and the collector tag and
// forwards it to the sink. Records arriving while the collector isn't
// running are dropped and counted, per contract.
func (r *CollectorRuntime) Collect(rec record.LogRecord) {
	r.mu.Lock()
	running := r.state == StateRunning
	if !running {
		r.counters.RecordsDropped++
	}
	r.mu.Unlock()

	if !running {
		return
	}

	rec.CollectedAt = time.Now().UTC()
	rec.Collector = r.name

	r.mu.Lock()
	r.counters.RecordsCollected++
	r.mu.Unlock()

	result, err := r.sink(context.Background(), rec)
	if err != nil {
		log := logging.For("collector")
		log.Warn().Err(err).Str("collector", r.name).Msg("sink rejected record")
		return
	}
	if result.Busy {
		r.mu.Lock()
		r.counters.RecordsBusy++
		r.mu.Unlock()
	}
}

// runGuarded calls fn, converting a panic into an error so one
// collector's bug can never take down another's goroutine or the
// framework's own loop.
func (r *CollectorRuntime) runGuarded(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("collector %s: panic: %v", r.name, p)
		}
	}()
	return fn()
}

// handleErrorLocked must be called with r.mu held. It records the
// failure, transitions to error, and - if auto-restart is enabled and
// retries remain - schedules a restart after RetryDelay.
func (r *CollectorRuntime) handleErrorLocked(ctx context.Context, err error) {
	log := logging.For("collector")
	r.counters.ErrorsObserved++
	r.lastError = err.Error()
	r.setState(StateError)

	if !r.cfg.AutoRestart || r.retriesUsed >= r.cfg.MaxRetries {
		log.Error().Err(err).Str("collector", r.name).Msg("collector failed, not restarting")
		return
	}
	metrics.CollectorRestarts.WithLabelValues(r.name).Inc()

	r.retriesUsed++
	attempt := r.retriesUsed
	log.Warn().Err(err).Str("collector", r.name).Int("attempt", attempt).Msg("collector failed, scheduling restart")

	go func() {
		select {
		case <-time.After(r.cfg.RetryDelay):
		case <-ctx.Done():
			return
		}
		r.Start(ctx)
	}()
}

func (r *CollectorRuntime) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()
	log := logging.For("collector")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.runGuarded(func() error { return r.adapter.CheckHealth(ctx) })
			if err != nil {
				log.Warn().Err(err).Str("collector", r.name).Msg("health check failed")
				r.mu.Lock()
				r.handleErrorLocked(ctx, err)
				r.mu.Unlock()
				return
			}
		}
	}
}

// Snapshot returns an atomic, consistent copy of this collector's status.
func (r *CollectorRuntime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Name:        r.name,
		State:       r.state,
		RetriesUsed: r.retriesUsed,
		LastError:   r.lastError,
		Counters:    r.counters,
		Derived:     r.adapter.Derived(),
	}
}
