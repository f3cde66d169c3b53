package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prasad/loghub/internal/record"
)

type rpcInFlight struct {
	Method    string
	StartedAt time.Time
	TraceID   string
}

// RPCCollector pairs requests and responses by request id, deriving a
// per-method running mean and request/response/error counts. Two log
// records are emitted per call: one on request, one on response, sharing
// a trace id so a caller can join them.
type RPCCollector struct {
	runtime *CollectorRuntime

	mu         sync.Mutex
	inFlight   map[string]rpcInFlight
	methodMean map[string]*runningMean
	requests   int64
	responses  int64
	errors     int64
}

func NewRPCCollector(sink Sink, cfg RuntimeConfig) *RPCCollector {
	c := &RPCCollector{
		inFlight:   make(map[string]rpcInFlight),
		methodMean: make(map[string]*runningMean),
	}
	c.runtime = NewRuntime("rpc", c, sink, cfg)
	return c
}

func (c *RPCCollector) Runtime() *CollectorRuntime { return c.runtime }

func (c *RPCCollector) OnStart(ctx context.Context) error    { return nil }
func (c *RPCCollector) OnStop(ctx context.Context) error     { return nil }
func (c *RPCCollector) CheckHealth(ctx context.Context) error { return nil }

func (c *RPCCollector) Derived() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	means := make(map[string]float64, len(c.methodMean))
	for method, m := range c.methodMean {
		means[method] = m.Value()
	}
	return map[string]any{
		"requests":       c.requests,
		"responses":      c.responses,
		"errors":         c.errors,
		"in_flight":      len(c.inFlight),
		"method_mean_ms": means,
	}
}

// OnRequest records an in-flight request and emits a request log record.
func (c *RPCCollector) OnRequest(requestID, method, traceID string) {
	c.mu.Lock()
	c.inFlight[requestID] = rpcInFlight{Method: method, StartedAt: time.Now(), TraceID: traceID}
	c.requests++
	c.mu.Unlock()

	rec := record.LogRecord{
		Level:    record.LevelInfo,
		Source:   "rpc",
		Message:  fmt.Sprintf("rpc request %s", method),
		Metadata: record.Attrs{"request_id": requestID, "method": method},
	}
	if traceID != "" {
		rec.TraceID = &traceID
	}
	c.runtime.Collect(rec)
}

// OnResponse closes out an in-flight request, updates the per-method mean
// and emits a response log record. errMsg is empty on success.
func (c *RPCCollector) OnResponse(requestID, status, errMsg string) {
	c.mu.Lock()
	inflight, ok := c.inFlight[requestID]
	if ok {
		delete(c.inFlight, requestID)
	}
	var duration time.Duration
	if ok {
		duration = time.Since(inflight.StartedAt)
		mean := c.methodMean[inflight.Method]
		if mean == nil {
			mean = &runningMean{}
			c.methodMean[inflight.Method] = mean
		}
		mean.Add(float64(duration.Milliseconds()))
	}
	c.responses++
	if errMsg != "" {
		c.errors++
	}
	c.mu.Unlock()

	level := record.LevelInfo
	if errMsg != "" {
		level = record.LevelError
	}
	meta := record.Attrs{
		"request_id":  requestID,
		"status":      status,
		"duration_ms": float64(duration.Milliseconds()),
	}
	if ok {
		meta["method"] = inflight.Method
	}
	if errMsg != "" {
		meta["error"] = errMsg
	}
	rec := record.LogRecord{
		Level:    level,
		Source:   "rpc",
		Message:  fmt.Sprintf("rpc response %s", status),
		Metadata: meta,
	}
	if ok && inflight.TraceID != "" {
		rec.TraceID = &inflight.TraceID
	}
	c.runtime.Collect(rec)
}
