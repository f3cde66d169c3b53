// Package rpcserver is the JSON-RPC 2.0 boundary: a single gin POST route
// that decodes a request envelope, dispatches to a method handler, and
// maps internal errkind.Kind failures to the JSON-RPC error code table.
package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/collector"
	"github.com/prasad/loghub/internal/errkind"
	"github.com/prasad/loghub/internal/ingest"
	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/metrics"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/sanitize"
	"github.com/prasad/loghub/internal/storage"
)

// Server holds every dependency a method handler needs. Direct API writes
// (log.write/log.writeBatch) sanitize and call store.Write synchronously
// so they can return an id immediately; collector-sourced records instead
// flow through the async ingest.Pipeline, which is the only other writer
// of store.
type Server struct {
	store     *storage.Store
	sanitizer *sanitize.Sanitizer
	query     *query.Service
	registry  *collector.Registry
	pipeline  *ingest.Pipeline
	broker    *broker.Broker

	startedAt time.Time
}

func New(store *storage.Store, sanitizer *sanitize.Sanitizer, svc *query.Service, registry *collector.Registry, pipeline *ingest.Pipeline, brk *broker.Broker) *Server {
	return &Server{
		store:     store,
		sanitizer: sanitizer,
		query:     svc,
		registry:  registry,
		pipeline:  pipeline,
		broker:    brk,
		startedAt: time.Now(),
	}
}

// Register mounts the /rpc route on r.
func (s *Server) Register(r gin.IRouter) {
	r.POST("/rpc", s.handle)
}

func (s *Server) handle(c *gin.Context) {
	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.JSON(http.StatusOK, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "missing jsonrpc/method"}})
		return
	}

	result, err := s.dispatch(c.Request.Context(), req.Method, req.Params)
	if err != nil {
		metrics.RPCRequests.WithLabelValues(req.Method, "error").Inc()
		logging.For("rpcserver").Warn().Err(err).Str("method", req.Method).Msg("rpc call failed")
		c.JSON(http.StatusOK, response{JSONRPC: "2.0", ID: req.ID, Error: toRPCError(err)})
		return
	}

	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()
	c.JSON(http.StatusOK, response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "log.write":
		return s.logWrite(ctx, params)
	case "log.writeBatch":
		return s.logWriteBatch(ctx, params)
	case "log.query":
		return s.logQuery(ctx, params)
	case "log.search":
		return s.logSearch(ctx, params)
	case "log.stats":
		return s.logStats(ctx, params)
	case "log.analysis":
		return s.logAnalysis(ctx, params)
	case "system.status":
		return s.systemStatus(ctx)
	case "system.health":
		return s.systemHealth(ctx)
	case "collector.toggle":
		return s.collectorToggle(ctx, params)
	case "collector.updateConfig":
		return s.collectorUpdateConfig(ctx, params)
	default:
		return nil, errkind.New(errkind.Validation, methodNotFound(method))
	}
}

func toRPCError(err error) *rpcError {
	code := codeInternal
	switch errkind.KindOf(err) {
	case errkind.Validation:
		code = codeInvalidParams
	case errkind.NotFound:
		code = codeNotFound
	case errkind.Busy, errkind.Capacity:
		code = codeBusy
	case errkind.RateLimited:
		code = codeRateLimited
	case errkind.Cancelled:
		code = codeCancelled
	case errkind.StorageTransient, errkind.StorageFatal, errkind.CollectorLocal, errkind.SubscriberSlow, errkind.Unknown:
		code = codeInternal
	}
	return &rpcError{Code: code, Message: err.Error()}
}

func methodNotFound(method string) error {
	return &unknownMethodError{method: method}
}

type unknownMethodError struct{ method string }

func (e *unknownMethodError) Error() string { return "rpcserver: unknown method " + e.method }
