package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/event-checkin/internal/model"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCheckin(model.OutcomeRedeemed, model.ReasonNone)
	m.ObserveCheckin(model.OutcomeRejected, model.ReasonWrongEvent)
	m.ObserveCheckin(model.OutcomeRejected, model.ReasonWrongEvent)
	m.ObserveRedeem("SUCCESS", 3*time.Millisecond)
	m.SetOfflineBacklog(4)
	m.ObserveReconcile("SETTLED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkins.WithLabelValues("REDEEMED", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkins.WithLabelValues("REJECTED", "WRONG_EVENT")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.offlineBacklog))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciles.WithLabelValues("SETTLED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.redeemDuration))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheckin(model.OutcomeRejected, model.ReasonExpired)
		m.ObserveRedeem("DUPLICATE", time.Second)
		m.SetOfflineBacklog(1)
		m.ObserveReconcile("FAILED")
	})
}
