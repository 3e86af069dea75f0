package observe

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

// BitrateSource exposes the current throughput estimate in kbit/s.
type BitrateSource interface {
	Estimate() float64
}

// Metrics holds all Prometheus metrics for the resolver and implements
// domain.Observer.
type Metrics struct {
	fetchesTotal   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	fetchBytes     prometheus.Histogram
	fetchesPending prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance. When bitrate is non-nil its
// estimate is exported as a gauge.
func NewMetrics(bitrate BitrateSource) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vast_fetches_total",
				Help: "Total number of VAST fetch attempts by outcome and status code",
			},
			[]string{"outcome", "status_code"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vast_fetch_duration_seconds",
				Help:    "VAST fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		fetchBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vast_fetch_response_bytes",
				Help:    "Size of fetched VAST documents",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		),

		fetchesPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vast_fetches_in_flight",
				Help: "Number of VAST fetch attempts awaiting the transport",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vast_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vast_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vast_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.fetchesTotal,
		m.fetchDuration,
		m.fetchBytes,
		m.fetchesPending,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.configReloads,
	)

	if bitrate != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "vast_estimated_bitrate_kbps",
				Help: "Running estimate of network throughput derived from VAST fetches",
			},
			bitrate.Estimate,
		))
	}

	return m
}

func (m *Metrics) OnResolving(domain.ResolvingEvent) {
	m.fetchesPending.Inc()
}

func (m *Metrics) OnResolved(e domain.ResolvedEvent) {
	m.fetchesPending.Dec()

	outcome := string(telemetry.Classify(e.Err))
	status := ""
	if e.StatusCode != 0 {
		status = strconv.Itoa(e.StatusCode)
	}
	m.fetchesTotal.WithLabelValues(outcome, status).Inc()
	m.fetchDuration.WithLabelValues(outcome).Observe(e.Duration.Seconds())
	if n := e.ByteLength(); n > 0 {
		m.fetchBytes.Observe(float64(n))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware creates HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// endpointName extracts a normalized endpoint name from the path
func endpointName(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/resolve":
		return "resolve"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
