// metrics.go registers all Prometheus metrics for the HTTP server and
// exposes helpers used by handlers and middleware.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler partitions metrics by the logical endpoint name rather
	// than the raw URL path.
	labelHandler = "handler"

	outcomeOK    = "ok"
	outcomeError = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// searchRequestsTotal counts completed /api/search requests by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records the wall-clock duration of /api/search
	// requests.
	searchDurationSeconds *prometheus.HistogramVec

	// searchCacheHitsTotal counts searches served from the result cache.
	searchCacheHitsTotal prometheus.Counter

	// askRequestsTotal counts completed /api/ask requests by outcome.
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records /api/ask duration from receipt to stream
	// completion.
	askDurationSeconds *prometheus.HistogramVec

	// askActiveStreams is the number of /api/ask SSE streams currently open.
	askActiveStreams prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, which keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookrag",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of /api/search requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookrag",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/search requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		searchCacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bookrag",
			Subsystem: "search",
			Name:      "cache_hits_total",
			Help:      "Number of searches served from the result cache.",
		}),

		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookrag",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookrag",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask requests from receipt to stream completion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		askActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookrag",
			Subsystem: "ask",
			Name:      "active_streams",
			Help:      "Number of /api/ask SSE streams currently open.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
