// Package metrics exposes Prometheus instrumentation for turns, completions and summary runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prism"

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	completions      *prometheus.HistogramVec
	structured       *prometheus.CounterVec
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	connections      prometheus.Gauge
	sessionsEnded    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by result.",
		}, []string{"result"}),
		completions: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion service calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"result"}),
		structured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structured_output_attempts_total",
			Help:      "Structured document attempts by stage and result.",
		}, []string{"stage", "result"}),
		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_runs_total",
			Help:      "Summary pipeline runs by result.",
		}, []string{"result"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_run_duration_seconds",
			Help:      "Wall time of summary pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		sessionsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions marked ended.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Turn counts a conversation turn. result is ok, expired or error.
func (m *Metrics) Turn(result string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result).Inc()
}

// ObserveCompletion records one completion call.
func (m *Metrics) ObserveCompletion(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.completions.WithLabelValues(result).Observe(d.Seconds())
}

// StructuredAttempt counts one structured document attempt.
func (m *Metrics) StructuredAttempt(stage, result string) {
	if m == nil {
		return
	}
	m.structured.WithLabelValues(stage, result).Inc()
}

// PipelineRun records a finished summary run.
func (m *Metrics) PipelineRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(result).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.sessionsEnded.Inc()
	}
}
