package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/cellaudit/internal/audit"
	"github.com/efebarandurmaz/cellaudit/internal/config"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/host/xlsx"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
)

// env holds what every command shares.
type env struct {
	ctx     context.Context
	cfg     *config.Config
	logger  *slog.Logger
	debug   bool
	tracer  *observability.TracerProvider
	audit   *observability.AuditLogger
	metrics *observability.AuditMetrics
}

func setup(ctx context.Context, configPath string, debug bool, auditLog, workbook string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, debug)
	slog.SetDefault(logger)

	tracing := observability.DefaultTracingConfig()
	tracing.OTLPEndpoint = cfg.Tracing.Endpoint
	tracing.SampleRate = cfg.Tracing.SampleRate
	tracing.Insecure = cfg.Tracing.Insecure
	tp, err := observability.InitTracing(ctx, tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if auditLog != "" {
		err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: auditLog,
			UserID:     os.Getenv("USER"),
			Workbook:   filepath.Base(workbook),
		})
		if err != nil {
			return nil, err
		}
	}

	return &env{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		debug:   debug,
		tracer:  tp,
		audit:   observability.Audit(),
		metrics: observability.Metrics(),
	}, nil
}

func (e *env) close(metricsOut string) {
	if metricsOut != "" {
		if err := writeMetrics(e.metrics, metricsOut); err != nil {
			e.logger.Warn("write metrics", "error", err)
		}
	}
	if err := e.audit.Close(); err != nil {
		e.logger.Warn("close audit log", "error", err)
	}
	if err := e.tracer.Shutdown(context.Background()); err != nil {
		e.logger.Warn("shutdown tracing", "error", err)
	}
}

func writeMetrics(m *observability.AuditMetrics, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	m.Registry.WritePrometheus(f)
	return f.Close()
}

func newLogger(cfg config.LogConfig, debug bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// sessionOptions builds workflow options from config, flags and the open
// workbook.
func (e *env) sessionOptions(wb *xlsx.Workbook, pass passFlags, seedSet bool) audit.Options {
	opts := e.cfg.Analysis.Options()
	if pass.draws > 0 {
		opts.Analysis.Draws = pass.draws
	}
	if seedSet {
		opts.Analysis.Seed = pass.seed
	}
	if pass.budget > 0 {
		opts.Analysis.Budget = pass.budget
	}
	if pass.allOutputs {
		opts.Analysis.AllOutputs = true
	}
	if pass.shade {
		opts.ShadeScores = true
	}
	opts.Analysis.Parser = wb.Parser()
	opts.Logger = e.logger.With("workbook", filepath.Base(wb.Path()))
	opts.Audit = e.audit
	opts.Metrics = e.metrics
	return opts
}

func buildGraph(ctx context.Context, wb *xlsx.Workbook, opts audit.Options) (*depgraph.Graph, error) {
	return depgraph.Build(ctx, wb, depgraph.Options{
		IgnoreParseErrors: opts.Analysis.IgnoreParseErrors,
		Parser:            wb.Parser(),
		Logger:            opts.Logger,
	})
}
