package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/audit"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/graphstore"
	"github.com/efebarandurmaz/cellaudit/internal/host/xlsx"
	"github.com/efebarandurmaz/cellaudit/internal/metrics"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// Application error types that are not worth retrying.
const (
	ErrTypeNoApplicableInputs = "NoApplicableInputs"
	ErrTypeGraphBuild         = "GraphBuild"
	ErrTypeResourceExhausted  = "ResourceExhausted"
)

// WorkbookResult is the serializable outcome of one workbook.
type WorkbookResult struct {
	Path       string
	Scored     int
	Ranked     []scoring.Score
	Flaggable  []scoring.Score
	Truncated  bool
	ReportPath string
	Error      string
	Errors     []string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Store   graphstore.Repository // nil disables StoreGraphActivity
	Logger  *slog.Logger
	Metrics *observability.AuditMetrics
}

var deps = &Dependencies{}

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func (d *Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// AnalyzeWorkbookActivity runs one pass over a workbook file and returns
// its ranking and flaggable cells. The file is not modified.
func AnalyzeWorkbookActivity(ctx context.Context, input BatchInput, path string) (WorkbookResult, error) {
	logger := deps.logger().With("workbook", path)
	wb, err := xlsx.Open(path, logger)
	if err != nil {
		return WorkbookResult{}, err
	}
	defer wb.Close()

	opts := analysis.DefaultOptions()
	if input.Draws > 0 {
		opts.Draws = input.Draws
	}
	if input.Budget > 0 {
		opts.Budget = input.Budget
	}
	opts.Seed = input.Seed
	opts.AllOutputs = input.AllOutputs
	opts.MaxEvidence = input.MaxEvidence
	opts.Parser = wb.Parser()
	opts.Logger = logger
	opts.Metrics = deps.Metrics
	opts.Progress = heartbeat{ctx: ctx}

	report := metrics.New(filepath.Base(path))
	res, err := analysis.Run(ctx, wb, opts)
	if err != nil {
		return WorkbookResult{}, classify(err)
	}

	sig := input.Significance
	if sig <= 0 {
		sig = audit.DefaultSignificance
	}
	out := WorkbookResult{
		Path:      path,
		Scored:    len(res.Ranked),
		Ranked:    res.Ranked,
		Flaggable: audit.Threshold(res.Ranked, sig, nil),
		Truncated: res.Truncated,
	}

	if input.ReportDir != "" {
		report.CollectPass(res, 10)
		report.Finish(nil)
		out.ReportPath, err = writeReport(input.ReportDir, path, report)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	}
	logger.Info("workbook analyzed", "scored", out.Scored, "flaggable", len(out.Flaggable), "truncated", out.Truncated)
	return out, nil
}

// StoreGraphActivity rebuilds a workbook's graph and stores it with the
// ranking in the graph store.
func StoreGraphActivity(ctx context.Context, path string, ranked []scoring.Score) error {
	if deps.Store == nil {
		return temporal.NewNonRetryableApplicationError("no graph store configured", "NoGraphStore", nil)
	}
	wb, err := xlsx.Open(path, deps.logger())
	if err != nil {
		return err
	}
	defer wb.Close()

	g, err := depgraph.Build(ctx, wb, depgraph.Options{
		IgnoreParseErrors: true,
		Parser:            wb.Parser(),
		Logger:            deps.logger(),
	})
	if err != nil {
		return classify(err)
	}
	name := filepath.Base(path)
	if err := deps.Store.StoreGraph(ctx, name, g); err != nil {
		return err
	}
	return deps.Store.StoreScores(ctx, name, ranked)
}

func writeReport(dir, path string, report *metrics.RunReport) (string, error) {
	data, err := report.JSON()
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".report.json"
	out := filepath.Join(dir, name)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return out, nil
}

// classify marks deterministic analysis failures as non-retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, analysis.ErrNoApplicableInputs):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeNoApplicableInputs, err)
	case errors.Is(err, depgraph.ErrGraphBuild):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeGraphBuild, err)
	case errors.Is(err, analysis.ErrResourceExhausted):
		return temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeResourceExhausted, err)
	default:
		return err
	}
}

// heartbeat reports pass progress to the server and observes cancellation.
type heartbeat struct {
	ctx context.Context
}

func (h heartbeat) ReportProgress(current, max int) {
	if current%100 != 0 || !activity.IsActivity(h.ctx) {
		return
	}
	activity.RecordHeartbeat(h.ctx, current, max)
}

func (h heartbeat) IsCancelled() bool {
	return h.ctx.Err() != nil
}
