// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors. Components observe through it rather
// than registering their own.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits   *prometheus.CounterVec
	CacheMisses prometheus.Counter

	LLMCalls    *prometheus.CounterVec
	LLMDuration prometheus.Histogram

	PlanSteps prometheus.Histogram

	HealthStatus *prometheus.GaugeVec

	LearningEMA *prometheus.GaugeVec
}

// New builds a self-contained registry with process and Go collectors
// plus the domain instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_cache_hits_total",
			Help: "Response cache hits by type (exact or semantic).",
		}, []string{"type"}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_cache_misses_total",
			Help: "Response cache misses.",
		}),
		LLMCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_llm_calls_total",
			Help: "Model backend calls by outcome.",
		}, []string{"outcome"}),
		LLMDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_llm_call_seconds",
			Help:    "Model backend call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		PlanSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_plan_steps",
			Help:    "Steps executed per reasoning plan.",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}),
		HealthStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_health_status",
			Help: "Probe status: 0 healthy, 1 degraded, 2 unhealthy.",
		}, []string{"probe"}),
		LearningEMA: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_learning_metric",
			Help: "Rolling learning metrics (EMA).",
		}, []string{"metric"}),
	}
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
