// Package metrics exposes prometheus instrumentation for the issuing pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry so several services can live in one process
// (tests, the one-shot CLI).
type Metrics struct {
	registry *prometheus.Registry

	// Documents rendered and persisted, by kind
	DocumentsCreated *prometheus.CounterVec

	// Rejected queries and contexts by kind and stage ("query", "context")
	ValidationFailures *prometheus.CounterVec

	RenderFailures *prometheus.CounterVec

	// Expand + compile + persist latency by kind
	RenderDuration *prometheus.HistogramVec

	// 1 while the render breaker rejects calls
	CircuitOpen prometheus.Gauge
}

// New creates a Metrics instance with every pipeline metric registered on a
// fresh registry, alongside the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DocumentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "othala_documents_created_total",
			Help: "Total documents rendered and persisted by kind",
		}, []string{"kind"}),

		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "othala_validation_failures_total",
			Help: "Total validation failures by kind and stage",
		}, []string{"kind", "stage"}),

		RenderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "othala_render_failures_total",
			Help: "Total render failures by kind",
		}, []string{"kind"}),

		RenderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "othala_render_duration_seconds",
			Help:    "Duration of template expansion, PDF compilation and persistence",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		CircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "othala_circuit_open",
			Help: "Whether the render circuit breaker is open (1) or not (0)",
		}),
	}
}

func (m *Metrics) IncrementCreated(kind string) {
	if m != nil {
		m.DocumentsCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementValidationFailure(kind, stage string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(kind, stage).Inc()
	}
}

func (m *Metrics) IncrementRenderFailure(kind string) {
	if m != nil {
		m.RenderFailures.WithLabelValues(kind).Inc()
	}
}

// ObserveRender records the duration of one render attempt.
func (m *Metrics) ObserveRender(kind string, d time.Duration) {
	if m != nil {
		m.RenderDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetCircuitOpen mirrors the breaker state.
func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
