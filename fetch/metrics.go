package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for outbound scraping traffic.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	ExtractionsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbzfx_requests_total",
			Help: "Total HTTP requests issued against the upstream site.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rbzfx_request_duration_seconds",
			Help:    "HTTP request latency against the upstream site.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rbzfx_retries_total",
			Help: "Total retry attempts for transient network failures.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbzfx_errors_total",
			Help: "Total request errors by class.",
		},
		[]string{"error_type"},
	)
	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbzfx_extractions_total",
			Help: "Completed single-day extractions by outcome.",
		},
		[]string{"status"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, extractions)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		ExtractionsTotal: extractions,
	}
}

// IncRequest increments the requests counter for a request kind.
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retry counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the error counter for a class label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncExtraction records a completed extraction outcome.
func (m *Metrics) IncExtraction(status string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(status).Inc()
}
