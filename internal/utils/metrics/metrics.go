package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Generation metrics
	GenerationRequestsTotal *prometheus.CounterVec
	GenerationDuration      *prometheus.HistogramVec
	FallbacksTotal          *prometheus.CounterVec
	PollAttemptsTotal       *prometheus.CounterVec
	ProviderHealth          *prometheus.GaugeVec

	// Relocation metrics
	RelocationsTotal *prometheus.CounterVec
	RelocatedBytes   prometheus.Counter

	// Batch metrics
	BatchItemsTotal *prometheus.CounterVec

	// Task metrics
	TasksInFlight prometheus.Gauge
}

// New creates a new Metrics instance registered with reg. A nil reg
// registers with the default prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mediaflow"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Generation metrics
		GenerationRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Total number of generation calls by provider, kind and outcome",
			},
			[]string{"provider", "kind", "outcome"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Generation call duration in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"provider", "kind"},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "fallbacks_total",
				Help:      "Total number of fallback hops to the canonical provider",
			},
			[]string{"from", "to", "kind"},
		),
		PollAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "poll_attempts_total",
				Help:      "Total number of job status polls",
			},
			[]string{"provider", "result"}, // result: ok, transient_error
		),
		ProviderHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "provider_health",
				Help:      "Provider health status (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"provider"},
		),

		// Relocation metrics
		RelocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relocation",
				Name:      "total",
				Help:      "Total number of relocations by media type and outcome",
			},
			[]string{"media_type", "outcome"},
		),
		RelocatedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relocation",
				Name:      "bytes_total",
				Help:      "Total bytes moved into owned storage",
			},
		),

		// Batch metrics
		BatchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "items_total",
				Help:      "Total number of batch items by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		// Task metrics
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tasks",
				Name:      "in_flight",
				Help:      "Number of background orchestration tasks running",
			},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a finished generation call.
func (m *Metrics) RecordGeneration(provider, kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GenerationRequestsTotal.WithLabelValues(provider, kind, outcome).Inc()
	m.GenerationDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// RecordFallback records a fallback hop.
func (m *Metrics) RecordFallback(from, to, kind string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(from, to, kind).Inc()
}

// RecordPoll records a status poll.
func (m *Metrics) RecordPoll(provider string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "transient_error"
	}
	m.PollAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// SetProviderHealth sets the health value of a provider.
func (m *Metrics) SetProviderHealth(provider string, value float64) {
	if m == nil {
		return
	}
	m.ProviderHealth.WithLabelValues(provider).Set(value)
}

// RecordRelocation records a relocation outcome.
func (m *Metrics) RecordRelocation(mediaType, outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.RelocationsTotal.WithLabelValues(mediaType, outcome).Inc()
	if bytes > 0 {
		m.RelocatedBytes.Add(float64(bytes))
	}
}

// RecordBatchItem records a batch item outcome.
func (m *Metrics) RecordBatchItem(kind, outcome string) {
	if m == nil {
		return
	}
	m.BatchItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// TaskStarted increments the in-flight task gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksInFlight.Inc()
}

// TaskFinished decrements the in-flight task gauge.
func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
