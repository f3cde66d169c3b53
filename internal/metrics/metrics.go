// Package metrics exposes the Prometheus collectors shared across
// subsystems (ambient stack; grounded on CrlsMrls-dummybox/metrics and
// ClusterCockpit-cc-backend's prometheus wiring). Registered once against
// the default registry and served at /metrics by cmd/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loghub_ingest_accepted_total",
		Help: "Records accepted by the ingest pipeline, by source.",
	}, []string{"source"})

	IngestDroppedBuffer = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loghub_ingest_dropped_buffer_total",
		Help: "Records dropped because the ingest buffer was full beyond its deadline.",
	})

	IngestDroppedFilter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loghub_ingest_dropped_filter_total",
		Help: "Records dropped by sanitizer drop-patterns.",
	})

	IngestDroppedRateLimit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loghub_ingest_dropped_rate_limit_total",
		Help: "Records dropped by the per-source rate limiter.",
	})

	IngestBatchWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loghub_ingest_batch_write_duration_seconds",
		Help:    "Duration of a single batch write to storage.",
		Buckets: prometheus.DefBuckets,
	})

	IngestDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loghub_ingest_dead_lettered_total",
		Help: "Records written to the dead-letter file after retry exhaustion.",
	})

	StorageQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loghub_storage_query_duration_seconds",
		Help:    "Duration of storage-layer SQL statements.",
		Buckets: prometheus.DefBuckets,
	})

	CollectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loghub_collector_state",
		Help: "Current state of a collector (1 for the active state, 0 otherwise), by name and state.",
	}, []string{"name", "state"})

	CollectorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loghub_collector_restarts_total",
		Help: "Auto-restart attempts per collector.",
	}, []string{"name"})

	BrokerSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loghub_broker_subscriptions",
		Help: "Currently active live-stream subscriptions.",
	})

	BrokerDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loghub_broker_dropped_total",
		Help: "Records dropped from a subscriber's buffer, by overflow policy.",
	}, []string{"policy"})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loghub_rpc_requests_total",
		Help: "JSON-RPC requests handled, by method and outcome.",
	}, []string{"method", "outcome"})
)
