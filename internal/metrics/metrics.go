// Package metrics exposes Prometheus instrumentation for the render loop
// and the HTTP control surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hessmap_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hessmap_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	paramChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hessmap_param_changes_total",
			Help: "Committed parameter changes.",
		},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hessmap_cycles_total",
			Help: "Completed render cycles by resulting status.",
		},
		[]string{"status"},
	)

	cyclesDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hessmap_cycles_discarded_total",
			Help: "Cycles whose fetch result was superseded by a newer request.",
		},
	)

	fetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hessmap_catalog_fetch_duration_seconds",
			Help:    "Catalog query latency by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 15),
		},
		[]string{"outcome"},
	)

	renderedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hessmap_rendered_rows",
			Help: "Rows plotted by the most recent displayed cycle.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(paramChangesTotal)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cyclesDiscardedTotal)
	prometheus.MustRegister(fetchDurationSeconds)
	prometheus.MustRegister(renderedRows)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ParamChanged records one committed parameter change.
func ParamChanged() {
	paramChangesTotal.Inc()
}

// ObserveFetch records the latency of one catalog query.
func ObserveFetch(outcome string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// CycleDisplayed records a cycle whose state reached the display.
func CycleDisplayed(status string, rows int) {
	cyclesTotal.WithLabelValues(status).Inc()
	renderedRows.Set(float64(rows))
}

// CycleDiscarded records a cycle dropped as stale.
func CycleDiscarded() {
	cyclesDiscardedTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

var knownRoutes = map[string]bool{
	"/":                       true,
	"/health":                 true,
	"/metrics":                true,
	"/api/params":             true,
	"/api/state":              true,
	"/api/query":              true,
	"/api/controls":           true,
	"/api/session":            true,
	"/api/refresh":            true,
	"/api/panels/scatter.png": true,
	"/api/panels/hess.png":    true,
}

// normalizeRoute collapses request paths to a bounded label set.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/params/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/params/{name}"
	}
	return "other"
}
