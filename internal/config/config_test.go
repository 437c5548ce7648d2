package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate_Default(t *testing.T) {
	cfg := Default()
	warnings := cfg.Validate()
	if len(warnings) != 0 {
		t.Errorf("default config should have no warnings, got %v", warnings)
	}
}

func TestValidate_Significance(t *testing.T) {
	tests := []struct {
		name string
		sig  float64
		want bool // true = should warn
	}{
		{"default", 0.95, false},
		{"one", 1.0, false},
		{"zero", 0, true},
		{"negative", -0.1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Analysis.Significance = tt.sig
			hasWarn := false
			for _, w := range cfg.Validate() {
				if strings.Contains(w, "significance") {
					hasWarn = true
				}
			}
			if hasWarn != tt.want {
				t.Errorf("significance=%.2f: hasWarn=%v, want=%v", tt.sig, hasWarn, tt.want)
			}
		})
	}
}

func TestValidate_Other(t *testing.T) {
	cfg := Default()
	cfg.Analysis.Bootstraps = 0
	cfg.Analysis.MaxEvidence = -1
	cfg.Tracing.SampleRate = 2
	cfg.Graph.URI = "bolt://localhost:7687"

	warnings := strings.Join(cfg.Validate(), "\n")
	for _, want := range []string{"bootstraps", "max_evidence", "sample_rate", "username"} {
		if !strings.Contains(warnings, want) {
			t.Errorf("expected warning about %s, got:\n%s", want, warnings)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.Bootstraps != 2719 {
		t.Errorf("bootstraps = %d, want 2719", cfg.Analysis.Bootstraps)
	}
	if cfg.Analysis.TimeBudget != 5*time.Minute {
		t.Errorf("time_budget = %s", cfg.Analysis.TimeBudget)
	}
	if !cfg.Analysis.Weighted || !cfg.Analysis.IgnoreParseErrors || cfg.Analysis.AllOutputs {
		t.Errorf("flags = %+v", cfg.Analysis)
	}
	if cfg.Temporal.TaskQueue != "cellaudit" {
		t.Errorf("task_queue = %s", cfg.Temporal.TaskQueue)
	}
	if cfg.Temporal.HealthAddr != ":8080" {
		t.Errorf("health_addr = %s", cfg.Temporal.HealthAddr)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellaudit.yaml")
	data := `analysis:
  bootstraps: 500
  significance: 0.9
  time_budget: 30s
  seed: 42
  all_outputs: true
  shade_scores: true
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := cfg.Analysis
	if a.Bootstraps != 500 || a.Significance != 0.9 || a.TimeBudget != 30*time.Second || a.Seed != 42 {
		t.Errorf("analysis = %+v", a)
	}
	if !a.AllOutputs || !a.ShadeScores || !a.Weighted {
		t.Errorf("flags = %+v", a)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CELLAUDIT_ANALYSIS_BOOTSTRAPS", "100")
	t.Setenv("CELLAUDIT_GRAPH_URI", "bolt://db:7687")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.Bootstraps != 100 {
		t.Errorf("bootstraps = %d, want 100", cfg.Analysis.Bootstraps)
	}
	if cfg.Graph.URI != "bolt://db:7687" {
		t.Errorf("graph uri = %s", cfg.Graph.URI)
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("analysis: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestAnalysisOptions(t *testing.T) {
	c := Default().Analysis
	c.Bootstraps = 100
	c.Seed = 9
	c.ShadeScores = true

	opts := c.Options()
	if opts.Analysis.Draws != 100 || opts.Analysis.Seed != 9 || !opts.ShadeScores {
		t.Errorf("options = %+v", opts)
	}
	if opts.Significance != 0.95 || opts.Analysis.Budget != 5*time.Minute {
		t.Errorf("significance=%v budget=%s", opts.Significance, opts.Analysis.Budget)
	}
}
