package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// passFlags override the analysis section of the config file.
type passFlags struct {
	draws      int
	seed       uint64
	budget     time.Duration
	allOutputs bool
	shade      bool
}

func main() {
	var (
		configPath string
		debug      bool
		auditLog   string
		metricsOut string
		pass       passFlags
	)

	rootCmd := &cobra.Command{
		Use:           "cellaudit",
		Short:         "Find likely data-entry errors in spreadsheets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/cellaudit.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging and score dump")
	rootCmd.PersistentFlags().StringVar(&auditLog, "audit-log", "", "Write workflow events as JSON lines to this file (or stdout/stderr)")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this file on exit")

	addPassFlags := func(cmd *cobra.Command) {
		cmd.Flags().IntVar(&pass.draws, "draws", 0, "Bootstrap draws (default from config)")
		cmd.Flags().Uint64Var(&pass.seed, "seed", 0, "Resampling seed (default from config)")
		cmd.Flags().DurationVar(&pass.budget, "budget", 0, "Time budget per pass (default from config)")
		cmd.Flags().BoolVar(&pass.allOutputs, "all-outputs", false, "Score against every formula, not only terminal outputs")
		cmd.Flags().BoolVar(&pass.shade, "shade", false, "Shade every scored cell by its score")
	}

	var (
		jsonReport bool
		outputPath string
	)
	analyzeCmd := &cobra.Command{
		Use:   "analyze <workbook.xlsx>",
		Short: "Run one pass and print the most suspicious cells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), configPath, debug, auditLog, args[0])
			if err != nil {
				return err
			}
			defer env.close(metricsOut)
			return runAnalyze(env, args[0], pass, cmd.Flags().Changed("seed"), jsonReport, outputPath)
		},
	}
	addPassFlags(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&jsonReport, "json", false, "Output the run report as JSON")
	analyzeCmd.Flags().StringVar(&outputPath, "output", "", "Save the shaded workbook here (default: in place)")

	var (
		reportPath     string
		keepHighlights bool
	)
	auditCmd := &cobra.Command{
		Use:   "audit <workbook.xlsx>",
		Short: "Review flagged cells interactively and save the corrections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), configPath, debug, auditLog, args[0])
			if err != nil {
				return err
			}
			defer env.close(metricsOut)
			return runAudit(env, args[0], pass, cmd.Flags().Changed("seed"), reportPath, keepHighlights)
		},
	}
	addPassFlags(auditCmd)
	auditCmd.Flags().StringVar(&reportPath, "report", "", "Write the review decisions as JSON")
	auditCmd.Flags().BoolVar(&keepHighlights, "keep-highlights", false, "Keep flag and known-good colours in the saved workbook")

	var (
		graphFormat string
		storeGraph  bool
		dependents  string
	)
	graphCmd := &cobra.Command{
		Use:   "graph <workbook.xlsx>",
		Short: "Print or store the dependency graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), configPath, debug, auditLog, args[0])
			if err != nil {
				return err
			}
			defer env.close(metricsOut)
			return runGraph(env, args[0], graphFormat, storeGraph, dependents)
		},
	}
	graphCmd.Flags().StringVar(&graphFormat, "format", "stats", "Output format: dot, mermaid, json, stats")
	graphCmd.Flags().BoolVar(&storeGraph, "store", false, "Store the graph in the configured Neo4j database")
	graphCmd.Flags().StringVar(&dependents, "dependents", "", "Query the stored graph for nodes that read this range key")

	var (
		reportDir   string
		storeGraphs bool
		wait        bool
	)
	batchCmd := &cobra.Command{
		Use:   "batch <workbook.xlsx>...",
		Short: "Submit workbooks to the batch analysis worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), configPath, debug, auditLog, "")
			if err != nil {
				return err
			}
			defer env.close(metricsOut)
			return runBatch(env, args, pass, batchOptions{reportDir: reportDir, storeGraphs: storeGraphs, wait: wait})
		},
	}
	addPassFlags(batchCmd)
	batchCmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory for per-workbook JSON run reports")
	batchCmd.Flags().BoolVar(&storeGraphs, "store-graphs", false, "Store each graph and ranking in Neo4j")
	batchCmd.Flags().BoolVar(&wait, "wait", true, "Wait for the workflow and print its result")

	rootCmd.AddCommand(analyzeCmd, auditCmd, graphCmd, batchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
