package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical endpoint name rather than
// raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so that tests can inject a fresh
// prometheus.Registry.
type serverMetrics struct {
	// analyzeRequestsTotal counts /api/v1/analyze requests by outcome:
	// "ok", "invalid", "timeout" or "error".
	analyzeRequestsTotal *prometheus.CounterVec

	// analyzeDurationSeconds records the wall-clock duration of each turn.
	analyzeDurationSeconds *prometheus.HistogramVec

	// analyzeInFlight is the number of turns currently being answered.
	analyzeInFlight prometheus.Gauge

	// httpRequestsTotal counts all instrumented requests by method,
	// handler and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of instrumented requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		analyzeRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finqa",
			Subsystem: "analyze",
			Name:      "requests_total",
			Help:      "Total number of /api/v1/analyze requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		analyzeDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finqa",
			Subsystem: "analyze",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/v1/analyze requests.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		analyzeInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "finqa",
			Subsystem: "analyze",
			Name:      "in_flight",
			Help:      "Number of /api/v1/analyze requests currently being answered.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for next under handler.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rec.code())).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
