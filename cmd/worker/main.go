package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/cellaudit/internal/config"
	"github.com/efebarandurmaz/cellaudit/internal/graphstore/neo4j"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
	"github.com/efebarandurmaz/cellaudit/internal/server"
	temporalmod "github.com/efebarandurmaz/cellaudit/internal/temporal"
)

var version = "dev"

func main() {
	configPath := "configs/cellaudit.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx := context.Background()
	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "cellaudit-worker",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	shutdown := server.NewShutdownHandler(0, logger)
	shutdown.RegisterHook("tracing", server.PriorityTracing, tp.Shutdown)

	health := server.NewHealthServer(&server.HealthConfig{
		Version: version,
		Metrics: observability.Metrics().Handler(),
	})

	deps := &temporalmod.Dependencies{Logger: logger, Metrics: observability.Metrics()}
	if cfg.Graph.URI != "" {
		store, err := neo4j.NewNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			log.Fatalf("graph store: %v", err)
		}
		shutdown.RegisterHook("graph-store", server.PriorityGraphStore, store.Close)
		health.RegisterCheck("graph", server.GraphStoreHealthChecker(cfg.Graph.URI, store.Ping))
		deps.Store = store
	}
	temporalmod.SetDependencies(deps)

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	shutdown.RegisterHook("worker", server.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})

	go func() {
		if err := health.ListenAndServe(cfg.Temporal.HealthAddr); err != nil {
			logger.Error("health server", "addr", cfg.Temporal.HealthAddr, "error", err)
		}
	}()
	shutdown.RegisterHook("http", server.PriorityHTTP, health.Shutdown)
	health.SetReady(true)

	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue, "health_addr", cfg.Temporal.HealthAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	health.SetReady(false)
	if errs := shutdown.Shutdown(); len(errs) > 0 {
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
