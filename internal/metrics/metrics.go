// Package metrics summarizes one analysis run for humans and for JSON
// consumers.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/depgraph"
)

// RunReport collects statistics for a full analysis run.
type RunReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`
	Workbook   string        `json:"workbook"`
	Graph      GraphMetrics  `json:"graph"`
	Pass       PassMetrics   `json:"pass"`
	Top        []CellScore   `json:"top,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

type GraphMetrics struct {
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`
	Formulas     int `json:"formulas"`
	InputRanges  int `json:"input_ranges"`
	VectorInputs int `json:"vector_inputs"`
	InputCells   int `json:"input_cells"`
	Outputs      int `json:"outputs"`
	Unparsed     int `json:"unparsed"`
	Components   int `json:"components"`
	MaxFanIn     int `json:"max_fan_in"`
	MaxFanOut    int `json:"max_fan_out"`
}

type PassMetrics struct {
	Draws        int           `json:"draws"`
	Evaluated    int           `json:"evaluated"`
	CacheHits    int           `json:"cache_hits"`
	CacheMisses  int           `json:"cache_misses"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	Rejections   int           `json:"rejections"`
	Scored       int           `json:"scored"`
	Stop         string        `json:"stop"`
	Truncated    bool          `json:"truncated"`
	Elapsed      time.Duration `json:"elapsed_ms"`
}

type CellScore struct {
	Cell  string `json:"cell"`
	Score int    `json:"score"`
}

// New starts tracking a run over the named workbook.
func New(workbook string) *RunReport {
	return &RunReport{StartedAt: time.Now(), Workbook: workbook}
}

// CollectGraph records the shape of the dependency graph.
func (m *RunReport) CollectGraph(s depgraph.Stats) {
	m.Graph = GraphMetrics{
		Nodes:        s.TotalNodes,
		Edges:        s.TotalEdges,
		Formulas:     s.FormulaCount,
		InputRanges:  s.InputCount,
		VectorInputs: s.VectorInputCount,
		InputCells:   s.InputCellCount,
		Outputs:      s.OutputCount,
		Unparsed:     s.UnparsedCount,
		Components:   s.ConnectedComponents,
		MaxFanIn:     s.MaxFanIn,
		MaxFanOut:    s.MaxFanOut,
	}
}

// CollectPass records a finished pass and its top n scores.
func (m *RunReport) CollectPass(res *analysis.Result, n int) {
	m.Pass = PassMetrics{
		Draws:       res.Draws,
		Evaluated:   res.Evaluated,
		CacheHits:   res.CacheHits,
		CacheMisses: res.CacheMisses,
		Rejections:  res.Rejections,
		Scored:      len(res.Ranked),
		Stop:        res.Stop.String(),
		Truncated:   res.Truncated,
		Elapsed:     res.Elapsed,
	}
	if lookups := res.CacheHits + res.CacheMisses; lookups > 0 {
		m.Pass.CacheHitRate = float64(res.CacheHits) / float64(lookups)
	}
	if res.Graph != nil {
		m.CollectGraph(res.Graph.Stats())
	}
	m.Top = m.Top[:0]
	for _, s := range res.Scores.Top(n) {
		m.Top = append(m.Top, CellScore{Cell: s.Address.String(), Score: s.Count})
	}
}

// Finish marks the run as complete.
func (m *RunReport) Finish(errs []string) {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.Errors = errs
}

// PrintSummary writes a human-readable summary.
func (m *RunReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║         CELLAUDIT RUN REPORT         ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Workbook:    %-23s║\n", m.Workbook)
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ GRAPH\n")
	fmt.Fprintf(w, "║   Nodes:       %d\n", m.Graph.Nodes)
	fmt.Fprintf(w, "║   Edges:       %d\n", m.Graph.Edges)
	fmt.Fprintf(w, "║   Formulas:    %d\n", m.Graph.Formulas)
	fmt.Fprintf(w, "║   Inputs:      %d (%d vector, %d cells)\n", m.Graph.InputRanges, m.Graph.VectorInputs, m.Graph.InputCells)
	fmt.Fprintf(w, "║   Outputs:     %d\n", m.Graph.Outputs)
	if m.Graph.Unparsed > 0 {
		fmt.Fprintf(w, "║   Unparsed:    %d\n", m.Graph.Unparsed)
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ PASS\n")
	fmt.Fprintf(w, "║   Draws:       %d/%d\n", m.Pass.Evaluated, m.Pass.Draws*max(m.Graph.InputRanges, 1))
	fmt.Fprintf(w, "║   Cache:       %d hits, %d misses (%.1f%%)\n", m.Pass.CacheHits, m.Pass.CacheMisses, 100*m.Pass.CacheHitRate)
	fmt.Fprintf(w, "║   Rejections:  %d\n", m.Pass.Rejections)
	fmt.Fprintf(w, "║   Scored:      %d\n", m.Pass.Scored)
	fmt.Fprintf(w, "║   Elapsed:     %s\n", m.Pass.Elapsed.Round(time.Millisecond))
	if m.Pass.Truncated {
		fmt.Fprintf(w, "║   Truncated:   %s\n", m.Pass.Stop)
	}
	if len(m.Top) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ TOP SCORES\n")
		for _, s := range m.Top {
			fmt.Fprintf(w, "║   %-20s %6d\n", s.Cell, s.Score)
		}
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (m *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
