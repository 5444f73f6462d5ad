// Package metrics holds the Prometheus collectors litdigest records into.
// Collectors live on a private registry so that tests and multiple runs in
// one process never collide on the global default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors bound to one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobs         *prometheus.CounterVec
	llmCalls     *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
	historyTrims prometheus.Counter
	runs         *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litdigest_jobs_total",
				Help: "Summary jobs finished, by status.",
			},
			[]string{"status"},
		),
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litdigest_llm_calls_total",
				Help: "LLM calls, by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "litdigest_llm_call_duration_seconds",
				Help:    "LLM call latency in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		historyTrims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "litdigest_history_trims_total",
			Help: "Conversation histories trimmed to fit the token budget.",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litdigest_runs_total",
				Help: "Batch runs, by final state.",
			},
			[]string{"state"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.jobs,
		m.llmCalls,
		m.llmDuration,
		m.historyTrims,
		m.runs,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobFinished counts one finished summary job.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

// LLMCall records one provider call and its latency.
func (m *Metrics) LLMCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// HistoryTrimmed counts one token-budget trim.
func (m *Metrics) HistoryTrimmed() {
	if m == nil {
		return
	}
	m.historyTrims.Inc()
}

// RunFinished counts one batch run by its final state.
func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
}

// HTTPRequest records one served HTTP request.
func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the node_exporter textfile
// collector format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
