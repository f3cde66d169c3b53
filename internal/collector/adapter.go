package collector

import "context"

// Adapter is the source-specific half of a collector: the framework
// (CollectorRuntime) owns the state machine and all collectors share it;
// an Adapter only wires/tears down its own resources and reports
// liveness and derived, kind-specific stats. Preferred to a
// BaseCollector-plus-subclasses hierarchy since kinds never need to
// share mutable state beyond what Counters already tracks.
type Adapter interface {
	// OnStart wires whatever resources this collector's source needs.
	// Must be idempotent: after a failure (a failed OnStart, a failed
	// health check) auto-restart calls it again without an intervening
	// OnStop.
	OnStart(ctx context.Context) error

	// OnStop tears down resources. Must be idempotent and must return
	// within the runtime's graceful-shutdown budget.
	OnStop(ctx context.Context) error

	// CheckHealth reports liveness; called on HealthCheckInterval when
	// set. The default built-in adapters treat this as a liveness-only
	// probe and always return nil once running.
	CheckHealth(ctx context.Context) error

	// Derived returns a snapshot of this adapter's kind-specific
	// rollups (e.g. per-method means for the RPC collector), read under
	// the runtime's lock.
	Derived() map[string]any
}

// Configurable is implemented by adapters that accept a live config
// update (collector.updateConfig's JSON-merge-patch semantics: only the
// fields present in patch are changed, everything else is left alone).
// Not every adapter kind has mutable config, so this is optional.
type Configurable interface {
	UpdateConfig(patch map[string]any) error
}
