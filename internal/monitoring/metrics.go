// Package monitoring exposes Prometheus metrics for check-in processing,
// the redemption ledger and offline reconciliation.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/event-checkin/internal/model"
)

// Metrics implements ledger.Recorder and scan.Recorder.  A nil *Metrics
// records nothing.
type Metrics struct {
	checkins       *prometheus.CounterVec
	redeemDuration *prometheus.HistogramVec
	offlineBacklog prometheus.Gauge
	reconciles     *prometheus.CounterVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checkins: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_outcomes_total",
				Help: "Terminal check-in outcomes by reason",
			},
			[]string{"outcome", "reason"},
		),
		redeemDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkin_ledger_redeem_duration_seconds",
				Help:    "Latency of ledger redemption attempts",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"outcome"},
		),
		offlineBacklog: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkin_offline_backlog",
				Help: "Tentative redemptions waiting for reconciliation",
			},
		),
		reconciles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_reconcile_results_total",
				Help: "Results of replaying offline redemptions",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveCheckin(outcome model.Outcome, reason model.Reason) {
	if m == nil {
		return
	}
	r := string(reason)
	if r == "" {
		r = "none"
	}
	m.checkins.WithLabelValues(string(outcome), r).Inc()
}

func (m *Metrics) ObserveRedeem(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.redeemDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) SetOfflineBacklog(pending int) {
	if m == nil {
		return
	}
	m.offlineBacklog.Set(float64(pending))
}

func (m *Metrics) ObserveReconcile(result string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
}
