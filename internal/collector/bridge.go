package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prasad/loghub/internal/record"
)

type bridgeAnalysis struct {
	Type        string
	StartedAt   time.Time
	PythonCalls int
}

const (
	defaultSlowAnalysisThreshold = 30 * time.Second
	defaultSlowCallThreshold     = 5 * time.Second
)

// BridgeCollector derives per-analysis stats for calls into an embedded
// AI/Python bridge: start/complete/error events for the analysis as a
// whole, plus per-call records for each underlying native invocation,
// flagging anything over the slow thresholds.
type BridgeCollector struct {
	runtime *CollectorRuntime

	SlowAnalysisThreshold time.Duration
	SlowCallThreshold     time.Duration

	mu       sync.Mutex
	analyses map[string]*bridgeAnalysis
}

func NewBridgeCollector(sink Sink, cfg RuntimeConfig) *BridgeCollector {
	c := &BridgeCollector{
		SlowAnalysisThreshold: defaultSlowAnalysisThreshold,
		SlowCallThreshold:     defaultSlowCallThreshold,
		analyses:              make(map[string]*bridgeAnalysis),
	}
	c.runtime = NewRuntime("ai_bridge", c, sink, cfg)
	return c
}

func (c *BridgeCollector) Runtime() *CollectorRuntime { return c.runtime }

func (c *BridgeCollector) OnStart(ctx context.Context) error    { return nil }
func (c *BridgeCollector) OnStop(ctx context.Context) error     { return nil }
func (c *BridgeCollector) CheckHealth(ctx context.Context) error { return nil }

func (c *BridgeCollector) Derived() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"in_flight_analyses": len(c.analyses)}
}

func (c *BridgeCollector) OnAnalysisStart(id, analysisType string) {
	c.mu.Lock()
	c.analyses[id] = &bridgeAnalysis{Type: analysisType, StartedAt: time.Now()}
	c.mu.Unlock()

	c.runtime.Collect(record.LogRecord{
		Level:    record.LevelInfo,
		Source:   "ai_analysis",
		Message:  fmt.Sprintf("analysis %s started", analysisType),
		Metadata: record.Attrs{"analysis_id": id, "type": analysisType},
	})
}

func (c *BridgeCollector) OnPythonCall(id string, duration time.Duration, err error) {
	c.mu.Lock()
	if a, ok := c.analyses[id]; ok {
		a.PythonCalls++
	}
	c.mu.Unlock()

	level := record.LevelDebug
	meta := record.Attrs{"analysis_id": id, "duration_ms": float64(duration.Milliseconds())}
	if duration >= c.SlowCallThreshold {
		meta["slow"] = true
		level = record.LevelWarn
	}
	if err != nil {
		level = record.LevelError
		meta["error"] = err.Error()
	}
	c.runtime.Collect(record.LogRecord{
		Level:    level,
		Source:   "ai_analysis",
		Message:  "native bridge call",
		Metadata: meta,
	})
}

func (c *BridgeCollector) OnAnalysisComplete(id string, err error) {
	c.mu.Lock()
	a, ok := c.analyses[id]
	delete(c.analyses, id)
	c.mu.Unlock()

	level := record.LevelInfo
	message := "analysis completed"
	meta := record.Attrs{"analysis_id": id}
	if ok {
		duration := time.Since(a.StartedAt)
		meta["duration_ms"] = float64(duration.Milliseconds())
		meta["python_calls"] = a.PythonCalls
		meta["type"] = a.Type
		if duration >= c.SlowAnalysisThreshold {
			meta["slow"] = true
			if level == record.LevelInfo {
				level = record.LevelWarn
			}
		}
	}
	if err != nil {
		level = record.LevelError
		message = "analysis failed"
		meta["error"] = err.Error()
	}
	c.runtime.Collect(record.LogRecord{
		Level:    level,
		Source:   "ai_analysis",
		Message:  message,
		Metadata: meta,
	})
}
