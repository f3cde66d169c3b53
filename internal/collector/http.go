package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prasad/loghub/internal/record"
)

var defaultIgnorePrefixes = []string{"/health", "/favicon.ico", "/static"}

// HTTPCollector is a gin middleware that stamps a request id, observes
// status and duration per request, and maintains a per-path rolling mean
// and error count. Configured path prefixes are skipped entirely so
// health checks and static assets don't dominate the derived stats.
type HTTPCollector struct {
	runtime *CollectorRuntime

	IgnorePrefixes []string
	SlowThreshold  time.Duration

	mu         sync.Mutex
	pathMean   map[string]*runningMean
	pathErrors map[string]int64
}

func NewHTTPCollector(sink Sink, cfg RuntimeConfig, ignorePrefixes []string, slowThreshold time.Duration) *HTTPCollector {
	if ignorePrefixes == nil {
		ignorePrefixes = defaultIgnorePrefixes
	}
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}
	c := &HTTPCollector{
		IgnorePrefixes: ignorePrefixes,
		SlowThreshold:  slowThreshold,
		pathMean:       make(map[string]*runningMean),
		pathErrors:     make(map[string]int64),
	}
	c.runtime = NewRuntime("http", c, sink, cfg)
	return c
}

func (c *HTTPCollector) Runtime() *CollectorRuntime { return c.runtime }

func (c *HTTPCollector) OnStart(ctx context.Context) error    { return nil }
func (c *HTTPCollector) OnStop(ctx context.Context) error     { return nil }
func (c *HTTPCollector) CheckHealth(ctx context.Context) error { return nil }

func (c *HTTPCollector) Derived() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	means := make(map[string]float64, len(c.pathMean))
	for path, m := range c.pathMean {
		means[path] = m.Value()
	}
	errs := make(map[string]int64, len(c.pathErrors))
	for path, n := range c.pathErrors {
		errs[path] = n
	}
	return map[string]any{"path_mean_ms": means, "path_errors": errs}
}

// UpdateConfig applies a partial patch to IgnorePrefixes/SlowThreshold
// (collector.updateConfig); fields absent from patch are left unchanged.
func (c *HTTPCollector) UpdateConfig(patch map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw, ok := patch["ignore_prefixes"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("collector: ignore_prefixes must be an array of strings")
		}
		prefixes := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("collector: ignore_prefixes must be an array of strings")
			}
			prefixes = append(prefixes, s)
		}
		c.IgnorePrefixes = prefixes
	}
	if raw, ok := patch["slow_threshold_ms"]; ok {
		ms, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("collector: slow_threshold_ms must be a number")
		}
		c.SlowThreshold = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func (c *HTTPCollector) ignored(path string) bool {
	c.mu.Lock()
	prefixes := c.IgnorePrefixes
	c.mu.Unlock()
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns the gin.HandlerFunc to install on the server's
// engine. It must be registered before any routes it should observe.
func (c *HTTPCollector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		path := ctx.FullPath()
		if path == "" {
			path = ctx.Request.URL.Path
		}
		if c.ignored(path) {
			ctx.Next()
			return
		}

		requestID := uuid.NewString()
		ctx.Writer.Header().Set("X-Request-ID", requestID)
		start := time.Now()

		ctx.Next()

		duration := time.Since(start)
		status := ctx.Writer.Status()
		isError := status >= 500

		c.mu.Lock()
		mean := c.pathMean[path]
		if mean == nil {
			mean = &runningMean{}
			c.pathMean[path] = mean
		}
		mean.Add(float64(duration.Milliseconds()))
		if isError {
			c.pathErrors[path]++
		}
		c.mu.Unlock()

		c.mu.Lock()
		slowThreshold := c.SlowThreshold
		c.mu.Unlock()

		level := record.LevelInfo
		meta := record.Attrs{
			"request_id":  requestID,
			"path":        path,
			"method":      ctx.Request.Method,
			"status":      status,
			"duration_ms": float64(duration.Milliseconds()),
		}
		if duration >= slowThreshold {
			meta["slow"] = true
			level = record.LevelWarn
		}
		if isError {
			level = record.LevelError
		}

		c.runtime.Collect(record.LogRecord{
			Level:    level,
			Source:   "http_requests",
			Message:  fmt.Sprintf("%s %s -> %d", ctx.Request.Method, path, status),
			Metadata: meta,
		})
	}
}
