package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prasad/loghub/internal/broker"
	"github.com/prasad/loghub/internal/collector"
	"github.com/prasad/loghub/internal/config"
	"github.com/prasad/loghub/internal/ingest"
	"github.com/prasad/loghub/internal/logging"
	"github.com/prasad/loghub/internal/query"
	"github.com/prasad/loghub/internal/record"
	"github.com/prasad/loghub/internal/rpcserver"
	"github.com/prasad/loghub/internal/sanitize"
	"github.com/prasad/loghub/internal/storage"
	"github.com/prasad/loghub/internal/wsserver"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "loghub:", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel, os.Stdout)
	log := logging.For("main")

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening storage")
	}
	store := storage.New(db, 0, cfg.BatchSize)
	defer store.Close()

	sanitizer := sanitize.New(sanitize.Config{
		DropPatterns:     cfg.DropPatterns,
		SensitiveKeys:    cfg.SensitiveKeys,
		RateLimitRPS:     cfg.RateLimitRPS,
		BurstLimit:       cfg.BurstLimit,
	})

	deadLetter, err := ingest.NewDeadLetterWriter(cfg.DeadLetterPath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening dead-letter writer")
	}
	defer deadLetter.Close()

	pipeline := ingest.New(ingest.Config{
		BufferSize:    cfg.IngestBuffer,
		MaxBatch:      cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
	}, sanitizer, store, deadLetter)

	brk := broker.New(0, 30*time.Second)

	registry := collector.NewRegistry()
	registerBuiltinCollectors(registry, pipeline, cfg)

	retentionScheduler, err := storage.NewScheduler(store, storage.RetentionPolicy{
		MaxAge:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		MaxSizeMB: cfg.MaxSizeMB,
	}, "0 * * * *")
	if err != nil {
		log.Fatal().Err(err).Msg("configuring retention scheduler")
	}

	querySvc := query.New(store, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)
	go brk.Run(ctx, store.Fanout())
	registry.StartAll(ctx)
	retentionScheduler.Start()

	engine := gin.New()
	engine.Use(gin.Recovery())
	if httpCollector, ok := lookupHTTPCollector(registry); ok {
		engine.Use(httpCollector.Middleware())
	}

	engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rpcserver.New(store, sanitizer, querySvc, registry, pipeline, brk).Register(engine)
	wsserver.New(brk, querySvc).Register(engine)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		log.Info().Str("addr", addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.GracefulShutdownTimeoutMS)*time.Millisecond)
	defer shutdownCancel()

	retentionScheduler.Stop()
	registry.StopAll(shutdownCtx, time.Duration(cfg.GracefulShutdownTimeoutMS)*time.Millisecond)
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

// registerBuiltinCollectors wires every built-in adapter into the
// registry, all feeding the ingest pipeline through one shared Sink.
func registerBuiltinCollectors(registry *collector.Registry, pipeline *ingest.Pipeline, cfg *config.Config) {
	sink := func(ctx context.Context, rec record.LogRecord) (collector.SinkResult, error) {
		outcome, err := pipeline.Submit(ctx, rec)
		if err != nil {
			return collector.SinkResult{}, err
		}
		return collector.SinkResult{Busy: outcome.Busy}, nil
	}
	runtimeCfg := collector.RuntimeConfig{AutoRestart: cfg.AutoReconnect}

	httpCollector := collector.NewHTTPCollector(sink, runtimeCfg, nil, 0)
	rpcCollector := collector.NewRPCCollector(sink, runtimeCfg)
	wsCollector := collector.NewWebSocketCollector(sink, runtimeCfg, false)
	bridgeCollector := collector.NewBridgeCollector(sink, runtimeCfg)

	for _, rt := range []*collector.CollectorRuntime{
		httpCollector.Runtime(),
		rpcCollector.Runtime(),
		wsCollector.Runtime(),
		bridgeCollector.Runtime(),
	} {
		if err := registry.Add(rt); err != nil {
			logging.For("main").Warn().Err(err).Str("collector", rt.Name()).Msg("collector registration failed")
		}
	}
}

func lookupHTTPCollector(registry *collector.Registry) (*collector.HTTPCollector, bool) {
	rt, ok := registry.Get("http")
	if !ok {
		return nil, false
	}
	c, ok := rt.AdapterAs().(*collector.HTTPCollector)
	return c, ok
}
