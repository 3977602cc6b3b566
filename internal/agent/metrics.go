package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values.
const (
	stageRetrieval  = "retrieval"
	stageGeneration = "generation"
	stageEvaluation = "evaluation"
)

// Metrics holds the pipeline's Prometheus collectors. Register a fresh
// registry per test to keep assertions hermetic.
type Metrics struct {
	// turnsTotal counts completed turns by final confidence.
	turnsTotal *prometheus.CounterVec

	// stageDuration records per-stage latency.
	stageDuration *prometheus.HistogramVec

	// degradedTotal counts stages whose model call failed and whose output
	// was substituted.
	degradedTotal *prometheus.CounterVec

	// citationsTotal counts turns by citation mode.
	citationsTotal *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finqa",
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Completed dialogue turns, partitioned by final confidence.",
		}, []string{"confidence"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finqa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
		}, []string{"stage"}),

		degradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finqa",
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Stages whose model call failed and were answered with substituted text.",
		}, []string{"stage"}),

		citationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finqa",
			Subsystem: "pipeline",
			Name:      "citations_total",
			Help:      "Turns partitioned by how their source list was produced.",
		}, []string{"mode"}),
	}
}
