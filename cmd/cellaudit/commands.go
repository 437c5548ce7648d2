package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/audit"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
	"github.com/efebarandurmaz/cellaudit/internal/graphstore/neo4j"
	"github.com/efebarandurmaz/cellaudit/internal/host/xlsx"
	"github.com/efebarandurmaz/cellaudit/internal/metrics"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
	"github.com/efebarandurmaz/cellaudit/internal/sessionstate"
	temporalmod "github.com/efebarandurmaz/cellaudit/internal/temporal"
	"github.com/efebarandurmaz/cellaudit/internal/tui"
)

// openSession opens the workbook and seeds a session with the known-good
// cells of the saved state that still hold.
func openSession(e *env, path string, pass passFlags, seedSet bool) (*xlsx.Workbook, *audit.Session, []address.Address, error) {
	wb, err := xlsx.Open(path, e.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	opts := e.sessionOptions(wb, pass, seedSet)
	s := audit.New(wb, opts)

	prev, err := sessionstate.LoadState(sessionstate.StatePath(path))
	if err != nil {
		e.logger.Warn("ignoring session state", "error", err)
		prev = nil
	}
	if prev == nil {
		return wb, s, nil, nil
	}
	g, err := buildGraph(e.ctx, wb, opts)
	if err != nil {
		wb.Close()
		return nil, nil, nil, fmt.Errorf("build graph: %w", err)
	}
	rec, err := sessionstate.Reconcile(e.ctx, wb, g, prev, e.logger)
	if err != nil {
		wb.Close()
		return nil, nil, nil, err
	}
	if len(rec.Changed) > 0 {
		fmt.Printf("%d previously confirmed cells changed and will be re-checked\n", len(rec.Changed))
	}
	if err := s.SetKnownGood(rec.Kept); err != nil {
		wb.Close()
		return nil, nil, nil, err
	}
	return wb, s, rec.Kept, nil
}

func saveState(e *env, wb *xlsx.Workbook, path string, opts audit.Options, knownGood []address.Address, ranked []scoring.Score) error {
	g, err := buildGraph(e.ctx, wb, opts)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	state, err := sessionstate.Capture(e.ctx, wb, g, filepath.Base(path), knownGood, ranked)
	if err != nil {
		return err
	}
	return state.Save(sessionstate.StatePath(path))
}

func runAnalyze(e *env, path string, pass passFlags, seedSet, jsonReport bool, outputPath string) error {
	wb, s, _, err := openSession(e, path, pass, seedSet)
	if err != nil {
		return err
	}
	defer wb.Close()

	report := metrics.New(filepath.Base(path))
	if err := s.Analyze(e.ctx, 0); err != nil {
		if errors.Is(err, analysis.ErrNoApplicableInputs) {
			fmt.Println("No formula reads a range of two or more input cells; nothing to analyze.")
			return nil
		}
		return err
	}
	res := s.Result()
	flaggable := s.Flaggable()
	report.CollectPass(res, 10)

	var errs []string
	opts := e.sessionOptions(wb, pass, seedSet)
	if opts.ShadeScores {
		if err := saveWorkbook(wb, outputPath); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := saveState(e, wb, path, opts, s.KnownGood(), res.Ranked); err != nil {
		errs = append(errs, fmt.Sprintf("save session state: %v", err))
	}
	report.Finish(errs)

	if jsonReport {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	report.PrintSummary(os.Stdout)
	if e.debug {
		printScores(res.Scores)
	}
	if len(flaggable) == 0 {
		fmt.Println("\nNo suspicious cells.")
		return nil
	}
	fmt.Printf("\nSuspicious cells (%d):\n", len(flaggable))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, sc := range flaggable {
		v, _ := wb.ReadCellValue(e.ctx, sc.Address)
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", sc.Address, sc.Count, v)
	}
	return tw.Flush()
}

// printScores dumps the ten highest scores with their normalized values.
func printScores(t *scoring.Table) {
	normalized := make(map[address.Address]float64)
	for _, n := range t.Normalize() {
		normalized[n.Address] = n.Value
	}
	fmt.Println("\nTop scores:")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, sc := range t.Top(10) {
		fmt.Fprintf(tw, "  %d\t%s\t%d\t%.3f\n", i+1, sc.Address, sc.Count, normalized[sc.Address])
	}
	tw.Flush()
}

func saveWorkbook(wb *xlsx.Workbook, outputPath string) error {
	if outputPath == "" {
		return wb.Save()
	}
	return wb.SaveAs(outputPath)
}

func runAudit(e *env, path string, pass passFlags, seedSet bool, reportPath string, keepHighlights bool) error {
	wb, s, seeded, err := openSession(e, path, pass, seedSet)
	if err != nil {
		return err
	}
	defer wb.Close()

	if err := s.Analyze(e.ctx, 0); err != nil {
		if errors.Is(err, analysis.ErrNoApplicableInputs) {
			fmt.Println("No formula reads a range of two or more input cells; nothing to review.")
			return nil
		}
		return err
	}
	if len(s.Flaggable()) == 0 {
		fmt.Println("No suspicious cells.")
		return nil
	}

	review, err := tui.RunReview(e.ctx, s, wb, tui.NewReviewSession(filepath.Base(path)))
	if err != nil {
		return err
	}

	knownGood := seeded
	for _, item := range review.Items {
		if item.Status != tui.ReviewPending {
			knownGood = append(knownGood, item.Cell)
		}
	}
	if review.Reset {
		knownGood = nil
	}
	if !keepHighlights {
		if err := s.ResetTool(context.WithoutCancel(e.ctx)); err != nil {
			return err
		}
	}
	if err := wb.Save(); err != nil {
		return err
	}

	var ranked []scoring.Score
	if res := s.Result(); res != nil {
		ranked = res.Ranked
	}
	if err := saveState(e, wb, path, e.sessionOptions(wb, pass, seedSet), dedupe(knownGood), ranked); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	if reportPath != "" {
		if err := tui.SaveReviewReport(review, reportPath); err != nil {
			return err
		}
	}

	c := review.Counts()
	fmt.Printf("Reviewed %d cells: %d marked OK, %d fixed.\n", c.Total, c.MarkedOK, c.Fixed)
	return nil
}

func dedupe(cells []address.Address) []address.Address {
	seen := make(map[address.Address]bool, len(cells))
	out := cells[:0:0]
	for _, a := range cells {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func runGraph(e *env, path, format string, store bool, dependents string) error {
	wb, err := xlsx.Open(path, e.logger)
	if err != nil {
		return err
	}
	defer wb.Close()

	g, err := depgraph.Build(e.ctx, wb, depgraph.Options{
		IgnoreParseErrors: e.cfg.Analysis.IgnoreParseErrors,
		Parser:            wb.Parser(),
		Logger:            e.logger,
	})
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	switch strings.ToLower(format) {
	case "dot":
		fmt.Print(depgraph.ExportDOT(g))
	case "mermaid":
		fmt.Print(depgraph.ExportMermaid(g))
	case "json":
		data, err := depgraph.ExportJSON(g)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "stats", "":
		fmt.Print(depgraph.FormatStats(g))
	default:
		return fmt.Errorf("unknown format %q (want dot, mermaid, json or stats)", format)
	}

	if !store && dependents == "" {
		return nil
	}
	if e.cfg.Graph.URI == "" {
		return errors.New("graph.uri is not configured")
	}
	repo, err := neo4j.NewNeo4j(e.ctx, e.cfg.Graph.URI, e.cfg.Graph.Username, e.cfg.Graph.Password)
	if err != nil {
		return err
	}
	defer repo.Close(e.ctx)

	name := filepath.Base(path)
	if store {
		if err := repo.StoreGraph(e.ctx, name, g); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Stored %d nodes for %s\n", g.Len(), name)
	}
	if dependents != "" {
		keys, err := repo.QueryDependents(e.ctx, name, dependents)
		if err != nil {
			return err
		}
		fmt.Printf("Dependents of %s:\n", dependents)
		for _, k := range keys {
			fmt.Printf("  %s\n", k)
		}
	}
	return nil
}

type batchOptions struct {
	reportDir   string
	storeGraphs bool
	wait        bool
}

func runBatch(e *env, paths []string, pass passFlags, bo batchOptions) error {
	input := temporalmod.BatchInput{
		Draws:        e.cfg.Analysis.Bootstraps,
		Seed:         e.cfg.Analysis.Seed,
		Budget:       e.cfg.Analysis.TimeBudget,
		Significance: e.cfg.Analysis.Significance,
		AllOutputs:   e.cfg.Analysis.AllOutputs || pass.allOutputs,
		MaxEvidence:  e.cfg.Analysis.MaxEvidence,
		ReportDir:    bo.reportDir,
		StoreGraphs:  bo.storeGraphs,
	}
	if pass.draws > 0 {
		input.Draws = pass.draws
	}
	if pass.seed != 0 {
		input.Seed = pass.seed
	}
	if pass.budget > 0 {
		input.Budget = pass.budget
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		input.Paths = append(input.Paths, abs)
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  e.cfg.Temporal.Host,
		Namespace: e.cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(e.ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("cellaudit-batch-%d", time.Now().UnixNano()),
		TaskQueue: e.cfg.Temporal.TaskQueue,
	}, temporalmod.AuditBatchWorkflow, input)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	fmt.Printf("Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
	if !bo.wait {
		return nil
	}

	var out temporalmod.BatchOutput
	if err := run.Get(e.ctx, &out); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKBOOK\tSCORED\tFLAGGABLE\tTRUNCATED\tERROR")
	for _, wr := range out.Workbooks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", filepath.Base(wr.Path), wr.Scored, len(wr.Flaggable), wr.Truncated, wr.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d workbooks, %d failed, %d suspicious cells\n", len(out.Workbooks), out.Failed, out.Flaggable)
	return nil
}
