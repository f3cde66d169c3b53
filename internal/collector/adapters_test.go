package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/record"
)

func TestRPCCollector_PairsRequestAndResponse(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	c := NewRPCCollector(collectInto(&collected, &mu), RuntimeConfig{})
	c.Runtime().Start(context.Background())

	c.OnRequest("req-1", "GetLogs", "trace-1")
	c.OnResponse("req-1", "200", "")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, collected, 2)
	require.Equal(t, "GetLogs", collected[0].Metadata["method"])
	require.NotNil(t, collected[0].TraceID)
	require.Equal(t, "trace-1", *collected[0].TraceID)

	derived := c.Derived()
	means := derived["method_mean_ms"].(map[string]float64)
	require.Contains(t, means, "GetLogs")
}

func TestWebSocketCollector_TracksConnectionLifecycle(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	c := NewWebSocketCollector(collectInto(&collected, &mu), RuntimeConfig{}, false)
	c.Runtime().Start(context.Background())

	c.OnConnect("conn-1")
	c.OnMessage("conn-1", "text", 128, true)
	c.OnDisconnect("conn-1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, collected, 2) // connect + disconnect; message not emitted (EmitMessages=false)
	require.Equal(t, int64(128), collected[1].Metadata["bytes_in"])
}

func TestBridgeCollector_FlagsSlowAnalysis(t *testing.T) {
	var collected []record.LogRecord
	var mu sync.Mutex
	c := NewBridgeCollector(collectInto(&collected, &mu), RuntimeConfig{})
	c.SlowAnalysisThreshold = time.Millisecond
	c.Runtime().Start(context.Background())

	c.OnAnalysisStart("a1", "security_scan")
	time.Sleep(2 * time.Millisecond)
	c.OnAnalysisComplete("a1", nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, collected, 2)
	require.Equal(t, true, collected[1].Metadata["slow"])
}

func TestHTTPCollector_IgnoresConfiguredPrefixes(t *testing.T) {
	c := NewHTTPCollector(func(context.Context, record.LogRecord) (SinkResult, error) { return SinkResult{}, nil }, RuntimeConfig{}, nil, 0)
	require.True(t, c.ignored("/health"))
	require.True(t, c.ignored("/favicon.ico"))
	require.False(t, c.ignored("/api/logs"))
}
