// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the faucet collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	FaucetRequests      *prometheus.CounterVec
	DisbursementLatency *prometheus.HistogramVec
	RateLimitHits       *prometheus.CounterVec
	LedgerAppendErrors  prometheus.Counter
	PolicyReloads       *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_http_requests_total",
				Help: "Total HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucet_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		FaucetRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_requests_total",
				Help: "Faucet requests by terminal outcome.",
			},
			[]string{"status", "reason"},
		),
		DisbursementLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucet_disbursement_duration_seconds",
				Help:    "Latency of disbursement backend calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"result"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_rate_limit_hits_total",
				Help: "Requests rejected by a rate limit, by scope.",
			},
			[]string{"scope"},
		),
		LedgerAppendErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faucet_ledger_append_errors_total",
				Help: "Ledger appends that failed to persist.",
			},
		),
		PolicyReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_policy_reloads_total",
				Help: "Policy reload attempts by result.",
			},
			[]string{"result"},
		),
	}
}

// Registry exposes the underlying registry, for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFaucetRequest counts one terminal outcome. reason is empty for successes.
func (m *Metrics) RecordFaucetRequest(status, reason string) {
	m.FaucetRequests.WithLabelValues(status, reason).Inc()
}

// RecordDisbursement observes one gateway call
func (m *Metrics) RecordDisbursement(ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.DisbursementLatency.WithLabelValues(result).Observe(d.Seconds())
}

// RecordRateLimitHit counts a rejection by the faucet window ("faucet") or the HTTP throttle ("http")
func (m *Metrics) RecordRateLimitHit(scope string) {
	m.RateLimitHits.WithLabelValues(scope).Inc()
}

// RecordPolicyReload counts a reload attempt
func (m *Metrics) RecordPolicyReload(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.PolicyReloads.WithLabelValues(result).Inc()
}

// RecordLedgerAppendError counts an outcome that could not be persisted
func (m *Metrics) RecordLedgerAppendError() {
	m.LedgerAppendErrors.Inc()
}
