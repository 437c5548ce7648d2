package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for pass durations.
func DefaultBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format, sorted by name.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w io.Writer, name, metricType, help string, labels map[string]string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), formatFloat(value))
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	for i, bound := range h.buckets {
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.counts[i])
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.count)

	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		parts = append(parts, k+"=\""+labels[k]+"\"")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// AuditMetrics contains the metrics recorded by analysis passes and the
// audit workflow.
type AuditMetrics struct {
	Registry *MetricsRegistry

	// Pass metrics
	PassesTotal      *Counter
	PassErrorsTotal  *Counter
	TruncatedTotal   *Counter
	PassDuration     *Histogram
	DrawsTotal       *Counter
	CacheHitsTotal   *Counter
	CacheMissesTotal *Counter
	RejectionsTotal  *Counter
	ScoredCellsGauge *Gauge

	// Workflow metrics
	FlagsTotal     *Counter
	MarkedOKTotal  *Counter
	FixesTotal     *Counter
	KnownGoodGauge *Gauge
}

// NewAuditMetrics creates the cellaudit metric set.
func NewAuditMetrics() *AuditMetrics {
	r := NewMetricsRegistry()

	return &AuditMetrics{
		Registry: r,

		PassesTotal:      r.NewCounter("cellaudit_passes_total", "Total analysis passes", nil),
		PassErrorsTotal:  r.NewCounter("cellaudit_pass_errors_total", "Analysis passes that failed", nil),
		TruncatedTotal:   r.NewCounter("cellaudit_truncated_passes_total", "Passes stopped by budget or cancellation", nil),
		PassDuration:     r.NewHistogram("cellaudit_pass_duration_seconds", "Analysis pass duration", nil, nil),
		DrawsTotal:       r.NewCounter("cellaudit_draws_total", "Bootstrap draws evaluated", nil),
		CacheHitsTotal:   r.NewCounter("cellaudit_cache_hits_total", "Draws answered from the evaluation cache", nil),
		CacheMissesTotal: r.NewCounter("cellaudit_cache_misses_total", "Draws that required a recalculation", nil),
		RejectionsTotal:  r.NewCounter("cellaudit_rejections_total", "Hypothesis test rejections", nil),
		ScoredCellsGauge: r.NewGauge("cellaudit_scored_cells", "Cells scored in the latest pass", nil),

		FlagsTotal:     r.NewCounter("cellaudit_flags_total", "Cells flagged for review", nil),
		MarkedOKTotal:  r.NewCounter("cellaudit_marked_ok_total", "Flagged cells marked as correct", nil),
		FixesTotal:     r.NewCounter("cellaudit_fixes_total", "Flagged cells corrected", nil),
		KnownGoodGauge: r.NewGauge("cellaudit_known_good", "Cells currently marked known-good", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *AuditMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordPass records one analysis pass.
func (m *AuditMetrics) RecordPass(duration time.Duration, draws, hits, misses, rejections, scored int, truncated bool, err error) {
	m.PassesTotal.Inc()
	m.PassDuration.Observe(duration.Seconds())
	if err != nil {
		m.PassErrorsTotal.Inc()
		return
	}
	m.DrawsTotal.Add(float64(draws))
	m.CacheHitsTotal.Add(float64(hits))
	m.CacheMissesTotal.Add(float64(misses))
	m.RejectionsTotal.Add(float64(rejections))
	m.ScoredCellsGauge.Set(float64(scored))
	if truncated {
		m.TruncatedTotal.Inc()
	}
}

// Global metrics instance
var globalMetrics *AuditMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *AuditMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewAuditMetrics()
	})
	return globalMetrics
}
