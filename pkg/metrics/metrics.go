package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics registers its collectors on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	documentsGenerated prometheus.Counter
	generationFailures *prometheus.CounterVec
	runsFinished       *prometheus.CounterVec
	generationSeconds  prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		documentsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "quizpack_documents_generated_total",
			Help: "Total number of student documents written.",
		}),
		generationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quizpack_generation_failures_total",
			Help: "Total number of failed generation calls, partitioned by kind.",
		}, []string{"kind"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quizpack_runs_finished_total",
			Help: "Total number of batch runs, partitioned by outcome.",
		}, []string{"outcome"}),
		generationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quizpack_generation_seconds",
			Help:    "Latency of generation calls.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
	}
}

func (m *Metrics) DocumentGenerated() {
	m.documentsGenerated.Inc()
}

func (m *Metrics) GenerationFailed(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.generationFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RunFinished(outcome string) {
	m.runsFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGeneration(seconds float64) {
	m.generationSeconds.Observe(seconds)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
