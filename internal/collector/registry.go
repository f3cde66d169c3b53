package collector

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry holds every registered collector by name and exposes the
// aggregate status query used by system.status().
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]*CollectorRuntime
}

func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]*CollectorRuntime)}
}

func (r *Registry) Register(name string, adapter Adapter, sink Sink, cfg RuntimeConfig) (*CollectorRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[name]; exists {
		return nil, fmt.Errorf("collector: %q already registered", name)
	}
	rt := NewRuntime(name, adapter, sink, cfg)
	r.collectors[name] = rt
	return rt, nil
}

// Add registers an already-constructed runtime (e.g. one of the built-in
// adapters, which build their own CollectorRuntime in their constructor)
// under its own name.
func (r *Registry) Add(rt *CollectorRuntime) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[rt.Name()]; exists {
		return fmt.Errorf("collector: %q already registered", rt.Name())
	}
	r.collectors[rt.Name()] = rt
	return nil
}

func (r *Registry) Get(name string) (*CollectorRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.collectors[name]
	return rt, ok
}

// StartAll starts every registered collector.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.collectors {
		rt.Start(ctx)
	}
}

// StopAll stops every registered collector, each bounded by timeout.
func (r *Registry) StopAll(ctx context.Context, timeout time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.collectors {
		_ = rt.Stop(ctx, timeout)
	}
}

// Toggle pauses or resumes a running collector.
func (r *Registry) Toggle(name string, enabled bool) error {
	rt, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("collector: unknown collector %q", name)
	}
	if enabled {
		rt.Resume()
	} else {
		rt.Pause()
	}
	return nil
}

// Snapshots returns a status snapshot per registered collector, keyed by
// name, for system.status().
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.collectors))
	for name, rt := range r.collectors {
		out[name] = rt.Snapshot()
	}
	return out
}
