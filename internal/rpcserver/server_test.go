package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/collector"
	"github.com/prasad/loghub/internal/ingest"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/sanitize"
	"github.com/prasad/loghub/internal/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "logs.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	store := storage.New(db, 16, 500)
	t.Cleanup(func() { store.Close() })

	sanitizer := sanitize.New(sanitize.Config{})
	svc := query.New(store, 4)
	registry := collector.NewRegistry()
	brk := broker.New(16, 0)

	dl, err := ingest.NewDeadLetterWriter(filepath.Join(t.TempDir(), "dead-letter.ndjson"))
	require.NoError(t, err)
	t.Cleanup(func() { dl.Close() })
	pipeline := ingest.New(ingest.Config{}, sanitizer, store, dl)

	srv := New(store, sanitizer, svc, registry, pipeline, brk)
	engine := gin.New()
	srv.Register(engine)
	return engine, store
}

func doRPC(t *testing.T, engine *gin.Engine, method string, params any) response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLogWrite_ReturnsIDSynchronously(t *testing.T) {
	engine, store := newTestServer(t)

	resp := doRPC(t, engine, "log.write", map[string]any{
		"source":  "api",
		"level":   "INFO",
		"message": "hello world",
	})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Contains(t, result, "id")

	count, err := store.Query(context.Background(), storage.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, count.TotalMatches)
}

func TestLogWrite_MissingSourceIsInvalidParams(t *testing.T) {
	engine, _ := newTestServer(t)

	resp := doRPC(t, engine, "log.write", map[string]any{"message": "hello"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestUnknownMethod_ReturnsInvalidParamsCode(t *testing.T) {
	engine, _ := newTestServer(t)
	resp := doRPC(t, engine, "bogus.method", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestLogQuery_ReturnsWrittenRecord(t *testing.T) {
	engine, _ := newTestServer(t)

	doRPC(t, engine, "log.write", map[string]any{"source": "api", "level": "INFO", "message": "one"})
	resp := doRPC(t, engine, "log.query", map[string]any{})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, result["total_matches"])
}

func TestSystemHealth_ReportsStorageCheck(t *testing.T) {
	engine, _ := newTestServer(t)
	resp := doRPC(t, engine, "system.health", nil)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, result["ok"])
}

func TestSystemStatus_ReportsServerVitals(t *testing.T) {
	engine, _ := newTestServer(t)

	doRPC(t, engine, "log.write", map[string]any{"source": "api", "level": "INFO", "message": "one"})
	resp := doRPC(t, engine, "system.status", nil)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "running", result["server_status"])
	require.EqualValues(t, 1, result["total_logs"])
	require.Contains(t, result, "disk_usage_mb")
	require.Contains(t, result, "memory_usage_mb")
	require.Contains(t, result, "uptime_seconds")
}

func TestLogStats_TimerangeParamResolvesBucketedDistribution(t *testing.T) {
	engine, _ := newTestServer(t)

	for i := 0; i < 6; i++ {
		doRPC(t, engine, "log.write", map[string]any{
			"source":  "api",
			"level":   "INFO",
			"message": "tick",
		})
	}

	resp := doRPC(t, engine, "log.stats", map[string]any{"timerange": "1h"})
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 6, result["total_logs"])

	dist, ok := result["time_distribution"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, dist)

	var sum int
	for _, b := range dist {
		bucket := b.(map[string]any)
		sum += int(bucket["count"].(float64))
	}
	require.Equal(t, 6, sum)
}

func TestLogAnalysis_TimerangeParamIsAccepted(t *testing.T) {
	engine, _ := newTestServer(t)

	doRPC(t, engine, "log.write", map[string]any{"source": "api", "level": "ERROR", "message": "boom"})

	resp := doRPC(t, engine, "log.analysis", map[string]any{
		"kind":      "errors",
		"timerange": "1h",
	})
	require.Nil(t, resp.Error)
}

func TestCollectorToggle_UnknownNameIsNotFound(t *testing.T) {
	engine, _ := newTestServer(t)
	resp := doRPC(t, engine, "collector.toggle", map[string]any{"name": "bogus", "enabled": true})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)
}
