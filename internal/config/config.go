package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/audit"
)

// Config holds all application configuration.
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

type AnalysisConfig struct {
	Bootstraps        int           `mapstructure:"bootstraps"`
	Significance      float64       `mapstructure:"significance"`
	TimeBudget        time.Duration `mapstructure:"time_budget"`
	Seed              uint64        `mapstructure:"seed"`
	IgnoreParseErrors bool          `mapstructure:"ignore_parse_errors"`
	Weighted          bool          `mapstructure:"weighted"`
	AllOutputs        bool          `mapstructure:"all_outputs"`
	MaxEvidence       int           `mapstructure:"max_evidence"`
	ShadeScores       bool          `mapstructure:"shade_scores"`
}

// Options converts the section into workflow options.
func (c AnalysisConfig) Options() audit.Options {
	opts := audit.DefaultOptions()
	opts.Analysis.Draws = c.Bootstraps
	opts.Analysis.Seed = c.Seed
	opts.Analysis.Budget = c.TimeBudget
	opts.Analysis.IgnoreParseErrors = c.IgnoreParseErrors
	opts.Analysis.Weighted = c.Weighted
	opts.Analysis.AllOutputs = c.AllOutputs
	opts.Analysis.MaxEvidence = c.MaxEvidence
	opts.Significance = c.Significance
	opts.ShadeScores = c.ShadeScores
	return opts
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TemporalConfig struct {
	Host       string `mapstructure:"host"`
	Namespace  string `mapstructure:"namespace"`
	TaskQueue  string `mapstructure:"task_queue"`
	HealthAddr string `mapstructure:"health_addr"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Bootstraps:        analysis.DefaultDraws,
			Significance:      audit.DefaultSignificance,
			TimeBudget:        analysis.DefaultBudget,
			IgnoreParseErrors: true,
			Weighted:          true,
		},
		Temporal: TemporalConfig{
			Host:       "localhost:7233",
			Namespace:  "default",
			TaskQueue:  "cellaudit",
			HealthAddr: ":8080",
		},
		Tracing: TracingConfig{SampleRate: 1.0},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Analysis.Bootstraps <= 0 {
		warnings = append(warnings, fmt.Sprintf("analysis bootstraps %d is not positive, default %d will be used", c.Analysis.Bootstraps, analysis.DefaultDraws))
	}

	if c.Analysis.Significance <= 0 || c.Analysis.Significance > 1 {
		warnings = append(warnings, fmt.Sprintf("analysis significance %.2f is outside (0, 1]", c.Analysis.Significance))
	}

	if c.Analysis.TimeBudget < 0 {
		warnings = append(warnings, fmt.Sprintf("analysis time_budget %s is negative", c.Analysis.TimeBudget))
	}

	if c.Analysis.MaxEvidence < 0 {
		warnings = append(warnings, fmt.Sprintf("analysis max_evidence %d is negative", c.Analysis.MaxEvidence))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	if c.Graph.URI != "" && c.Graph.Username == "" {
		warnings = append(warnings, "graph uri is set but username is empty")
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("analysis.bootstraps", d.Analysis.Bootstraps)
	v.SetDefault("analysis.significance", d.Analysis.Significance)
	v.SetDefault("analysis.time_budget", d.Analysis.TimeBudget)
	v.SetDefault("analysis.seed", d.Analysis.Seed)
	v.SetDefault("analysis.ignore_parse_errors", d.Analysis.IgnoreParseErrors)
	v.SetDefault("analysis.weighted", d.Analysis.Weighted)
	v.SetDefault("analysis.all_outputs", d.Analysis.AllOutputs)
	v.SetDefault("analysis.max_evidence", d.Analysis.MaxEvidence)
	v.SetDefault("analysis.shade_scores", d.Analysis.ShadeScores)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("temporal.health_addr", d.Temporal.HealthAddr)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration from file and environment. An empty path or a
// missing file yields the defaults, still overridable by CELLAUDIT_*
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CELLAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
