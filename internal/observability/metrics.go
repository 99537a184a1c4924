package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Lezhik/SpringTwin/internal/ir"
)

// MetricsNamespace prefixes every SpringTwin metric.
const MetricsNamespace = "springtwin"

// Metrics holds the SpringTwin Prometheus collectors. Each instance owns a
// private registry so tests and embedded servers do not collide.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	jobDuration        prometheus.Histogram
	unitsTotal         *prometheus.CounterVec
	commitsTotal       *prometheus.CounterVec
	graphNodes         *prometheus.GaugeVec
	toolCallsTotal     *prometheus.CounterVec
	reportCacheTotal   *prometheus.CounterVec
	projectionFailures *prometheus.CounterVec
}

// NewMetrics registers the SpringTwin collectors plus the Go and process
// collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_total",
			Help:      "Analysis jobs by terminal state",
		}, []string{"state"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of analysis jobs from start to terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		unitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "units_total",
			Help:      "Source units processed by outcome",
		}, []string{"outcome"}),
		commitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "commits_total",
			Help:      "Graph commits by result",
		}, []string{"result"}),
		graphNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "graph_nodes",
			Help:      "Entities in the current graph of a project",
		}, []string{"project", "kind"}),
		toolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool gateway invocations by tool and result code",
		}, []string{"tool", "code"}),
		reportCacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "report_cache_total",
			Help:      "Rendered report cache lookups",
		}, []string{"result"}),
		projectionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "projection_failures_total",
			Help:      "Failed projections of committed graphs",
		}, []string{"projector"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobFinished records a job reaching a terminal state.
func (m *Metrics) JobFinished(state string, d time.Duration) {
	m.jobsTotal.WithLabelValues(state).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// UnitProcessed counts one source unit.
func (m *Metrics) UnitProcessed(outcome string) {
	m.unitsTotal.WithLabelValues(outcome).Inc()
}

// CommitObserved implements graph.Metrics.
func (m *Metrics) CommitObserved(result string) {
	m.commitsTotal.WithLabelValues(result).Inc()
}

// ProjectionFailed implements graph.Metrics.
func (m *Metrics) ProjectionFailed(projector string) {
	m.projectionFailures.WithLabelValues(projector).Inc()
}

// GraphSize implements graph.Metrics.
func (m *Metrics) GraphSize(projectID string, c ir.Counts) {
	m.graphNodes.WithLabelValues(projectID, "class").Set(float64(c.Classes))
	m.graphNodes.WithLabelValues(projectID, "method").Set(float64(c.Methods))
	m.graphNodes.WithLabelValues(projectID, "endpoint").Set(float64(c.Endpoints))
	m.graphNodes.WithLabelValues(projectID, "edge").Set(float64(c.Edges))
}

// ForgetProject drops the gauges of a deleted project.
func (m *Metrics) ForgetProject(projectID string) {
	m.graphNodes.DeletePartialMatch(prometheus.Labels{"project": projectID})
}

// ToolCall counts one gateway invocation.
func (m *Metrics) ToolCall(tool, code string) {
	m.toolCallsTotal.WithLabelValues(tool, code).Inc()
}

// ReportCache counts a report cache hit or miss.
func (m *Metrics) ReportCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCacheTotal.WithLabelValues(result).Inc()
}
