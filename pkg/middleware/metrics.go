package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute labels requests chi could not route, so scanner traffic
// does not create new series.
const unmatchedRoute = "unmatched"

// StatusClientClosed is recorded when the caller disconnected before a
// response was written, as typeahead clients do on every keystroke.
const StatusClientClosed = 499

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		},
		[]string{"service", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request latency by route pattern.",
			// Search and suggest answer in tens of milliseconds, reindex
			// triggers return once the run is scheduled.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"service", "method", "route"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size; search pages with facets dominate.",
			Buckets: prometheus.ExponentialBuckets(512, 4, 7),
		},
		[]string{"service", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
		[]string{"service"},
	)
)

// PrometheusMetrics records request count, latency and response size per
// chi route pattern. It must run inside the chi router so the pattern is
// known once the handler returns.
func PrometheusMetrics(serviceName string) func(next http.Handler) http.Handler {
	inFlight := httpRequestsInFlight.WithLabelValues(serviceName)
	total := httpRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	duration := httpRequestDuration.MustCurryWith(prometheus.Labels{"service": serviceName})
	size := httpResponseSize.MustCurryWith(prometheus.Labels{"service": serviceName})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inFlight.Inc()
			defer inFlight.Dec()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			total.WithLabelValues(r.Method, route, strconv.Itoa(responseStatus(r, rec))).Inc()
			duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			size.WithLabelValues(route).Observe(float64(rec.bytes))
		})
	}
}

// responseStatus is the written status, or StatusClientClosed when the
// request context was canceled before anything was written.
func responseStatus(r *http.Request, rec *statusRecorder) int {
	if !rec.wroteHeader && errors.Is(r.Context().Err(), context.Canceled) {
		return StatusClientClosed
	}
	return rec.status
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}
