// Package observability holds the verifier's Prometheus collectors: query
// outcomes and durations, CAPTCHA attempts, card jobs and webhook
// deliveries.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Query outcomes by status and source (api, console, webhook, cli, mcp).
	QueryOutcome *prometheus.CounterVec

	// Full query latency including every CAPTCHA attempt.
	QueryDuration *prometheus.HistogramVec

	// CAPTCHA submissions consumed per completed query.
	QueryAttempts prometheus.Histogram

	// Queries waiting for or holding a browser slot.
	InFlight prometheus.Gauge

	// Card jobs by result (done, failed, skipped).
	CardJobs *prometheus.CounterVec

	// Webhook deliveries by result (queued, ignored, rejected).
	Webhooks *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers every collector on reg. A nil reg gets a fresh
// registry carrying the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)
	return &Metrics{
		QueryOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcheck_query_outcomes_total",
			Help: "Registry queries by outcome status and request source",
		}, []string{"status", "source"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcheck_query_duration_seconds",
			Help:    "Duration of a registry query from session start to result",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"source"}),

		QueryAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcheck_query_captcha_attempts",
			Help:    "CAPTCHA submissions per completed query",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentcheck_queries_in_flight",
			Help: "Queries waiting for or holding a browser session",
		}),

		CardJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcheck_card_jobs_total",
			Help: "Background card verifications by result",
		}, []string{"result"}),

		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcheck_webhook_deliveries_total",
			Help: "Trello webhook deliveries by result",
		}, []string{"result"}),

		registry: reg,
	}
}

// ObserveQuery records one finished query. status is "error" when the
// query did not complete.
func (m *Metrics) ObserveQuery(source, status string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryOutcome.WithLabelValues(status, source).Inc()
	m.QueryDuration.WithLabelValues(source).Observe(d.Seconds())
	if attempts > 0 {
		m.QueryAttempts.Observe(float64(attempts))
	}
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// IncrementCardJob records a background card result.
func (m *Metrics) IncrementCardJob(result string) {
	if m != nil {
		m.CardJobs.WithLabelValues(result).Inc()
	}
}

// IncrementWebhook records a webhook delivery result.
func (m *Metrics) IncrementWebhook(result string) {
	if m != nil {
		m.Webhooks.WithLabelValues(result).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
