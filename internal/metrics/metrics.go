// Package metrics exposes Prometheus counters/histograms for the
// admission pipeline, grounded on the teacher's
// internal/middleware/metrics.go (naming convention, label shape) and
// internal/router/metrics.go (separate metrics-port router).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetguard_http_requests_total",
			Help: "Total number of HTTP requests served by the admission edge.",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetguard_http_request_duration_seconds",
			Help:    "Admission pipeline request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	AdmissionDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetguard_admission_denials_total",
			Help: "Requests rejected by the admission pipeline, by error kind.",
		},
		[]string{"kind"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "budgetguard_upstream_request_duration_seconds",
			Help:    "Upstream provider call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	UsageUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetguard_usage_usd_total",
			Help: "Accounted USD cost, by tenant.",
		},
		[]string{"tenant"},
	)
)

// Middleware records per-request count and latency, keyed by route
// pattern and final status code.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		status := statusLabel(wrapped.Status())
		HTTPRequestsTotal.WithLabelValues(route, status).Inc()
		HTTPRequestDuration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func statusLabel(code int) string {
	if code == 0 {
		return "200"
	}
	return strconv.Itoa(code)
}

// NewRouter serves /metrics on a dedicated port, separate from the
// admission edge (spec SPEC_FULL.md §10 ambient stack).
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"metrics"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
