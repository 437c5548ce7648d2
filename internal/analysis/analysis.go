// Package analysis runs one bootstrap pass over a workbook: build the
// dependency graph, resample every terminal input, evaluate the outputs for
// each draw and score the input cells.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/bootstrap"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/evalcache"
	"github.com/efebarandurmaz/cellaudit/internal/host"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

var (
	// ErrNoApplicableInputs means no range of raw values feeds a formula.
	ErrNoApplicableInputs = errors.New("no applicable inputs")
	// ErrResourceExhausted means the pass would exceed the evidence limit.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// DefaultDraws is ceil(1000·e).
var DefaultDraws = int(math.Ceil(1000 * math.E))

// DefaultBudget is the soft wall-clock limit of a pass.
const DefaultBudget = 5 * time.Minute

// Options configures a pass.
type Options struct {
	Draws  int
	Seed   uint64
	Budget time.Duration // zero disables the deadline

	// Weighted tests only (output, input) pairs where the input reaches
	// the output.
	Weighted bool
	// AllOutputs scores against every formula instead of terminal outputs.
	AllOutputs        bool
	IgnoreParseErrors bool
	// MaxEvidence caps outputs × inputs × draws; zero means unlimited.
	MaxEvidence int

	Parser   depgraph.Parser
	Progress host.Progress
	Logger   *slog.Logger
	Metrics  *observability.AuditMetrics
}

// DefaultOptions returns the standard pass settings.
func DefaultOptions() Options {
	return Options{
		Draws:             DefaultDraws,
		Budget:            DefaultBudget,
		Weighted:          true,
		IgnoreParseErrors: true,
	}
}

// Result is the outcome of a pass.
type Result struct {
	Graph       *depgraph.Graph
	Scores      *scoring.Table
	Ranked      []scoring.Score
	Inputs      int
	Outputs     int
	Draws       int
	Evaluated   int
	CacheHits   int
	CacheMisses int
	Rejections  int
	Stop        evalcache.Stop
	Truncated   bool
	Elapsed     time.Duration
}

// Run builds the dependency graph of wb and runs a pass over it.
func Run(ctx context.Context, wb host.Workbook, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g, err := depgraph.Build(ctx, wb, depgraph.Options{
		IgnoreParseErrors: opts.IgnoreParseErrors,
		Parser:            opts.Parser,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	return RunGraph(ctx, wb, g, opts)
}

// RunGraph runs a pass over an already built graph. The host must hold the
// values the graph was built from.
func RunGraph(ctx context.Context, wb host.Workbook, g *depgraph.Graph, opts Options) (res *Result, err error) {
	if opts.Draws <= 0 {
		opts.Draws = DefaultDraws
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	start := time.Now()

	ctx, span := observability.StartPassSpan(ctx, opts.Draws, opts.Seed)
	defer func() {
		observability.RecordError(span, err)
		if res != nil {
			observability.RecordPassResult(span, res.Inputs, res.Outputs, res.Scores.Len(), res.CacheHits, res.CacheMisses, res.Truncated)
		}
		span.End()
		if opts.Metrics != nil {
			if res != nil {
				opts.Metrics.RecordPass(time.Since(start), res.Evaluated, res.CacheHits, res.CacheMisses, res.Rejections, res.Scores.Len(), res.Truncated, nil)
			} else {
				opts.Metrics.RecordPass(time.Since(start), 0, 0, 0, 0, 0, false, err)
			}
		}
	}()

	inputs := g.TerminalInputs()
	outputs := g.TerminalOutputs()
	if opts.AllOutputs {
		outputs = g.Formulas()
	}
	if len(inputs) == 0 || len(outputs) == 0 || !g.HasVectorInputs() {
		return nil, ErrNoApplicableInputs
	}
	if opts.MaxEvidence > 0 {
		if evidence := len(outputs) * len(inputs) * opts.Draws; evidence > opts.MaxEvidence {
			return nil, fmt.Errorf("%w: %d outputs × %d inputs × %d draws exceeds %d",
				ErrResourceExhausted, len(outputs), len(inputs), opts.Draws, opts.MaxEvidence)
		}
	}

	outAddrs := make([]address.Address, len(outputs))
	originals := make([]string, len(outputs))
	for i, n := range outputs {
		outAddrs[i] = n.Range.Start
		if originals[i], err = wb.ReadCellValue(ctx, outAddrs[i]); err != nil {
			return nil, host.IOError("read", outAddrs[i], err)
		}
	}

	ranges := make([]evalcache.Range, len(inputs))
	samples := make([]bootstrap.InputSample, len(inputs))
	for i, n := range inputs {
		samples[i] = bootstrap.NewSample(n.Values)
		ranges[i] = evalcache.Range{Key: n.Key, Cells: n.Cells(), Original: samples[i]}
	}

	phaseCtx, phase := observability.StartPhaseSpan(ctx, "resample")
	draws, err := bootstrap.ResampleAll(phaseCtx, samples, opts.Draws, opts.Seed)
	phase.End()
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	set := bootstrap.NewSet(len(outputs), len(inputs), opts.Draws)
	evalOpts := []evalcache.Option{evalcache.WithProgress(opts.Progress), evalcache.WithLogger(opts.Logger)}
	if opts.Budget > 0 {
		evalOpts = append(evalOpts, evalcache.WithDeadline(start.Add(opts.Budget)))
	}
	ev := evalcache.NewEvaluator(wb, evalOpts...)

	phaseCtx, phase = observability.StartPhaseSpan(ctx, "evaluate")
	stop, err := ev.Run(phaseCtx, ranges, draws, outAddrs, set)
	phase.End()
	if err != nil {
		return nil, err
	}

	_, phase = observability.StartPhaseSpan(ctx, "score")
	table := scoring.NewTable()
	rejections := 0
	// table order is the rank tie-break and follows terminal-input order
	for r, in := range inputs {
		for o, out := range outputs {
			if opts.Weighted && !g.Reaches(in, out) {
				continue
			}
			column := set.Draws(o, r)
			if len(column) == 0 {
				continue
			}
			rejections += scoring.ScoreColumn(table, ranges[r].Cells, originals[o], column)
		}
	}
	phase.End()

	evaluated := 0
	for r := range inputs {
		evaluated += set.Completed(r)
	}
	res = &Result{
		Graph:       g,
		Scores:      table,
		Ranked:      table.Rank(),
		Inputs:      len(inputs),
		Outputs:     len(outputs),
		Draws:       opts.Draws,
		Evaluated:   evaluated,
		CacheHits:   ev.Memo().Hits(),
		CacheMisses: ev.Memo().Misses(),
		Rejections:  rejections,
		Stop:        stop,
		Truncated:   set.Truncated(),
		Elapsed:     time.Since(start),
	}
	opts.Logger.Info("analysis pass complete",
		"inputs", res.Inputs, "outputs", res.Outputs, "scored", table.Len(),
		"rejections", rejections, "cache_hits", res.CacheHits, "cache_misses", res.CacheMisses,
		"truncated", res.Truncated, "elapsed", res.Elapsed)
	return res, nil
}
