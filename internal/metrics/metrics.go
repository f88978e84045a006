// Package metrics holds the Prometheus collectors the keeper updates while
// running:
//
//	keeper_wallet_leases_total{purpose,outcome}      lease attempts (granted|shortage)
//	keeper_wallets_leased{purpose}                   identities currently leased
//	keeper_rollover_attempts_total{outcome}          success|failure|no_wallet|panic
//	keeper_rollover_skips_total{reason}              eligibility rejections
//	keeper_rollover_sweep_seconds                    duration of one sweep
//	keeper_rollover_tracked_failures                 entries in the failure counter
//	keeper_arbitrage_checks_total{pair,result}       none|opportunity|error
//	keeper_arbitrage_executions_total{outcome}       success|failure|profit_not_met|no_wallet|below_floor
//	keeper_notifications_total{sender,outcome}       sent|failed|dropped
//
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of keeper collectors bound to one registry.
type Metrics struct {
	registry *prometheus.Registry

	leases          *prometheus.CounterVec
	leased          *prometheus.GaugeVec
	rollovers       *prometheus.CounterVec
	skips           *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	trackedFailures prometheus.Gauge
	arbChecks       *prometheus.CounterVec
	arbExecutions   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_wallet_leases_total",
			Help: "Wallet lease attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		leased: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_wallets_leased",
			Help: "Signing identities currently leased.",
		}, []string{"purpose"}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_rollover_attempts_total",
			Help: "Rollover attempts by outcome.",
		}, []string{"outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_rollover_skips_total",
			Help: "Positions skipped by the eligibility filter, by reason.",
		}, []string{"reason"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_rollover_sweep_seconds",
			Help:    "Duration of one rollover sweep.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		trackedFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_rollover_tracked_failures",
			Help: "Positions with a non-zero failure count.",
		}),
		arbChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_arbitrage_checks_total",
			Help: "Arbitrage checks by pair and result.",
		}, []string{"pair", "result"}),
		arbExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_arbitrage_executions_total",
			Help: "Arbitrage executions by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_notifications_total",
			Help: "Notification deliveries by sender and outcome.",
		}, []string{"sender", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.leases, m.leased, m.rollovers, m.skips, m.sweepDuration,
		m.trackedFailures, m.arbChecks, m.arbExecutions, m.notifications,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LeaseGranted(purpose string) {
	if m == nil {
		return
	}
	m.leases.WithLabelValues(purpose, "granted").Inc()
	m.leased.WithLabelValues(purpose).Inc()
}

func (m *Metrics) LeaseShortage(purpose string) {
	if m == nil {
		return
	}
	m.leases.WithLabelValues(purpose, "shortage").Inc()
}

func (m *Metrics) LeaseReleased(purpose string) {
	if m == nil {
		return
	}
	m.leased.WithLabelValues(purpose).Dec()
}

func (m *Metrics) RolloverAttempt(outcome string) {
	if m == nil {
		return
	}
	m.rollovers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RolloverSkipped(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

// SweepFinished records one sweep's duration and the failure counter size.
func (m *Metrics) SweepFinished(d time.Duration, tracked int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	m.trackedFailures.Set(float64(tracked))
}

func (m *Metrics) ArbitrageChecked(pair, result string) {
	if m == nil {
		return
	}
	m.arbChecks.WithLabelValues(pair, result).Inc()
}

func (m *Metrics) ArbitrageExecuted(outcome string) {
	if m == nil {
		return
	}
	m.arbExecutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(sender, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(sender, outcome).Inc()
}
