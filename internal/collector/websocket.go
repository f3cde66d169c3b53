package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/prasad/loghub/internal/record"
)

type wsConnStats struct {
	BytesIn       int64
	BytesOut      int64
	Messages      int64
	TypeHistogram map[string]int64
}

// WebSocketCollector derives per-connection byte counts, message counts
// and a message-type histogram. Per-message log records are opt-in
// (EmitMessages) since a busy connection can otherwise flood storage.
type WebSocketCollector struct {
	runtime *CollectorRuntime

	EmitMessages bool

	mu    sync.Mutex
	conns map[string]*wsConnStats
}

func NewWebSocketCollector(sink Sink, cfg RuntimeConfig, emitMessages bool) *WebSocketCollector {
	c := &WebSocketCollector{EmitMessages: emitMessages, conns: make(map[string]*wsConnStats)}
	c.runtime = NewRuntime("websocket", c, sink, cfg)
	return c
}

func (c *WebSocketCollector) Runtime() *CollectorRuntime { return c.runtime }

func (c *WebSocketCollector) OnStart(ctx context.Context) error    { return nil }
func (c *WebSocketCollector) OnStop(ctx context.Context) error     { return nil }
func (c *WebSocketCollector) CheckHealth(ctx context.Context) error { return nil }

func (c *WebSocketCollector) Derived() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"active_connections": len(c.conns)}
}

func (c *WebSocketCollector) OnConnect(connID string) {
	c.mu.Lock()
	c.conns[connID] = &wsConnStats{TypeHistogram: map[string]int64{}}
	c.mu.Unlock()

	c.runtime.Collect(record.LogRecord{
		Level:    record.LevelInfo,
		Source:   "websocket",
		Message:  "connection established",
		Metadata: record.Attrs{"conn_id": connID},
	})
}

func (c *WebSocketCollector) OnDisconnect(connID string) {
	c.mu.Lock()
	stats, ok := c.conns[connID]
	delete(c.conns, connID)
	c.mu.Unlock()

	meta := record.Attrs{"conn_id": connID}
	if ok {
		meta["bytes_in"] = stats.BytesIn
		meta["bytes_out"] = stats.BytesOut
		meta["messages"] = stats.Messages
	}
	c.runtime.Collect(record.LogRecord{
		Level:    record.LevelInfo,
		Source:   "websocket",
		Message:  "connection closed",
		Metadata: meta,
	})
}

// OnMessage records a message's byte count and type, emitting a log
// record only when EmitMessages is set.
func (c *WebSocketCollector) OnMessage(connID, msgType string, bytes int64, inbound bool) {
	c.mu.Lock()
	stats, ok := c.conns[connID]
	if !ok {
		stats = &wsConnStats{TypeHistogram: map[string]int64{}}
		c.conns[connID] = stats
	}
	if inbound {
		stats.BytesIn += bytes
	} else {
		stats.BytesOut += bytes
	}
	stats.Messages++
	stats.TypeHistogram[msgType]++
	c.mu.Unlock()

	if !c.EmitMessages {
		return
	}
	c.runtime.Collect(record.LogRecord{
		Level:   record.LevelDebug,
		Source:  "websocket",
		Message: fmt.Sprintf("message %s", msgType),
		Metadata: record.Attrs{
			"conn_id": connID,
			"type":    msgType,
			"bytes":   bytes,
			"inbound": inbound,
		},
	})
}

func (c *WebSocketCollector) OnError(connID string, err error) {
	c.runtime.Collect(record.LogRecord{
		Level:    record.LevelError,
		Source:   "websocket",
		Message:  "connection error",
		Metadata: record.Attrs{"conn_id": connID, "error": err.Error()},
	})
}
