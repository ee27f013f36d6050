// Package observability exposes Prometheus metrics and health endpoints.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapilot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_turns_total",
			Help: "Total number of answered turns by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapilot_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"intent"},
	)

	// Capability metrics
	capabilityInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_capability_invocations_total",
			Help: "Total number of capability invocations by outcome",
		},
		[]string{"capability", "outcome"},
	)

	capabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapilot_capability_duration_seconds",
			Help:    "Capability invocation duration in seconds, including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability"},
	)

	capabilityRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_capability_retries_total",
			Help: "Total number of retried capability attempts",
		},
		[]string{"capability"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datapilot_active_sessions",
			Help: "Number of sessions created and not deleted by this process",
		},
	)

	schemaFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_schema_fetch_failures_total",
			Help: "Total number of failed warehouse schema introspections",
		},
	)

	// Corpus metrics
	corpusChunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_corpus_chunks_ingested_total",
			Help: "Total number of documentation chunks ingested",
		},
		[]string{"corpus"},
	)

	initOnce sync.Once
)

// Invocation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
	OutcomeMissing     = "missing_state"
)

// InitMetrics registers the metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			turnsTotal,
			turnDuration,
			capabilityInvocationsTotal,
			capabilityDuration,
			capabilityRetriesTotal,
			activeSessions,
			schemaFetchFailures,
			corpusChunksIngested,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTurn records a completed turn.
func RecordTurn(intent, outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(intent, outcome).Inc()
	turnDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

// RecordInvocation records a capability invocation.
func RecordInvocation(capability, outcome string, duration time.Duration) {
	capabilityInvocationsTotal.WithLabelValues(capability, outcome).Inc()
	capabilityDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordRetry records one retried attempt.
func RecordRetry(capability string) {
	capabilityRetriesTotal.WithLabelValues(capability).Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }

// RecordSchemaFetchFailure counts a failed schema introspection.
func RecordSchemaFetchFailure() { schemaFetchFailures.Inc() }

// RecordChunksIngested counts ingested corpus chunks.
func RecordChunksIngested(corpus string, n int) {
	corpusChunksIngested.WithLabelValues(corpus).Add(float64(n))
}
