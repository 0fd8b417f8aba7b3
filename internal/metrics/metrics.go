// Package metrics provides Prometheus metrics for session and access decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the POS front-end. A nil or
// disabled Metrics records nothing.
type Metrics struct {
	enabled bool

	guardDecisionsTotal *prometheus.CounterVec
	guardDuration       prometheus.Histogram

	shiftVerificationsTotal *prometheus.CounterVec

	tokenRenewalsTotal *prometheus.CounterVec

	sessionResyncsTotal *prometheus.CounterVec
	sessionClearsTotal  *prometheus.CounterVec
}

// New creates and registers metrics on reg. If enabled is false, returns a
// no-op Metrics instance.
func New(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	factory := promauto.With(reg)

	m.guardDecisionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_guard_decisions_total",
		Help: "Total access guard decisions",
	}, []string{"outcome", "reason"})

	m.guardDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_guard_evaluation_duration_seconds",
		Help:    "Access guard evaluation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.shiftVerificationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_shift_verifications_total",
		Help: "Total shift verifications by result",
	}, []string{"result"})

	m.tokenRenewalsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_token_renewals_total",
		Help: "Total token renewal attempts by result",
	}, []string{"result"})

	m.sessionResyncsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_session_resyncs_total",
		Help: "Total view resynchronizations triggered by another view",
	}, []string{"key"})

	m.sessionClearsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_session_clears_total",
		Help: "Total session clears by cause",
	}, []string{"cause"})

	return m
}

func (m *Metrics) on() bool {
	return m != nil && m.enabled
}

// RecordDecision records one guard decision.
func (m *Metrics) RecordDecision(outcome, reason string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(outcome, reason).Inc()
	m.guardDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordShiftVerification(result string) {
	if !m.on() {
		return
	}
	m.shiftVerificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTokenRenewal(result string) {
	if !m.on() {
		return
	}
	m.tokenRenewalsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordResync(key string) {
	if !m.on() {
		return
	}
	m.sessionResyncsTotal.WithLabelValues(key).Inc()
}

func (m *Metrics) RecordSessionCleared(cause string) {
	if !m.on() {
		return
	}
	m.sessionClearsTotal.WithLabelValues(cause).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
