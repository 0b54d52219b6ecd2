package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

type memoryAppender struct {
	mu      sync.Mutex
	records []model.CheckinRecord
	err     error
}

func (m *memoryAppender) Append(_ context.Context, r model.CheckinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memoryAppender) all() []model.CheckinRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CheckinRecord(nil), m.records...)
}

func (f *deviceFixture) reconciler(history Appender) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Authority: f.remote,
		Store:     f.store,
		History:   history,
		Outbox:    history,
		Reviews:   f.reviews,
		Probe:     f.probe,
		Retry:     RetryPolicy{Attempts: 1},
		Logger:    quietLogger(),
		Metrics:   f.metrics,
	})
}

func TestReconcile_OfflineRedemptionSettlesOnce(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	rec := f.reconciler(history)
	ctx := context.Background()

	req := request("b2", "D1")
	req.Record = &model.CheckinRecord{UserName: "Ada", EventTitle: "Summer Jazz Night", Tickets: 2}
	res, err := f.device.Redeem(ctx, req)
	require.NoError(t, err)
	require.Equal(t, OutcomeTentative, res.Outcome)

	settled, err := rec.Settled(ctx)
	require.NoError(t, err)
	assert.False(t, settled)

	f.probe.set(true)
	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Replayed)
	assert.Equal(t, 1, rep.Redeemed)
	assert.False(t, rep.Interrupted)
	assert.True(t, rep.Remaining.Empty())

	stored, err := f.authority.Lookup(ctx, "b2")
	require.NoError(t, err)
	assert.True(t, stored.Replayed)
	assert.True(t, stored.RedeemedAt.Equal(t0))

	// A second pass has nothing to do.
	_, err = rec.Reconcile(ctx)
	require.NoError(t, err)

	records := history.all()
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeRedeemed, records[0].Outcome)
	assert.Equal(t, "b2", records[0].BookingID)
	assert.Equal(t, "Ada", records[0].UserName)
	assert.True(t, records[0].CheckedInAt.Equal(t0))
	assert.NotEmpty(t, records[0].ID)

	settled, err = rec.Settled(ctx)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, 1, f.metrics.reconciles["redeemed"])
}

func TestReconcile_ContestedRedemption(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	rec := f.reconciler(history)
	ctx := context.Background()

	_, err := f.authority.Redeem(ctx, request("b3", "D9"))
	require.NoError(t, err)
	_, err = f.device.Redeem(ctx, request("b3", "D1"))
	require.NoError(t, err)

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Contested)

	e, _ := f.store.Lookup(ctx, "b3")
	assert.Equal(t, StatusContested, e.Status)

	records := history.all()
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeRejected, records[0].Outcome)
	assert.Equal(t, model.ReasonDuplicateRedemption, records[0].Reason)

	items, _ := f.reviews.List(ctx, "", 0)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReviewReconcile, items[0].Source)
	assert.Equal(t, "D9", items[0].Prior.DeviceID)
}

func TestReconcile_ReplaysInOrderAndStopsWhenOffline(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	rec := f.reconciler(history)
	ctx := context.Background()

	for _, b := range []string{"b1", "b2", "b3"} {
		_, err := f.device.Redeem(ctx, request(b, "D1"))
		require.NoError(t, err)
	}

	f.remote.fail(model.Unavailable(errors.New("timeout")))
	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 3, rep.Remaining.Pending)
	assert.Equal(t, []string{"b1"}, f.remote.seen)

	f.remote.fail(nil)
	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Redeemed)
	assert.Equal(t, []string{"b1", "b1", "b2", "b3"}, f.remote.seen)
	assert.Len(t, history.all(), 3)
}

func TestReconcile_FailedReplayRaisesReview(t *testing.T) {
	f := newDeviceFixture(false)
	rec := f.reconciler(&memoryAppender{})
	ctx := context.Background()

	_, err := f.device.Redeem(ctx, request("b4", "D1"))
	require.NoError(t, err)
	f.remote.fail(model.Errorf(model.ReasonMalformed, "event closed"))

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	e, _ := f.store.Lookup(ctx, "b4")
	assert.Equal(t, StatusFailed, e.Status)
	items, _ := f.reviews.List(ctx, "", 0)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReasonMalformed, items[0].Reason)
	assert.Equal(t, model.ReviewReconcile, items[0].Source)
}

func TestReconcile_OwnEarlierReplayCountsAsRedeemed(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	rec := f.reconciler(history)
	ctx := context.Background()

	_, err := f.device.Redeem(ctx, request("b5", "D1"))
	require.NoError(t, err)
	// The replay reached the authority but the device never settled it.
	replay := request("b5", "D1")
	replay.Replayed = true
	_, err = f.authority.Redeem(ctx, replay)
	require.NoError(t, err)

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Redeemed)
	assert.Equal(t, model.OutcomeRedeemed, history.all()[0].Outcome)
}

func TestOwnPrior_ComparesAtStorePrecision(t *testing.T) {
	at := t0.Add(123456789 * time.Nanosecond)
	mine := model.Redemption{BookingID: "b1", DeviceID: "D1", RedeemedAt: at}
	stored := model.Redemption{BookingID: "b1", DeviceID: "D1", RedeemedAt: at.Truncate(time.Microsecond)}

	assert.True(t, ownPrior(mine, &stored))
	stored.DeviceID = "D2"
	assert.False(t, ownPrior(mine, &stored))
	stored.DeviceID = "D1"
	stored.RedeemedAt = at.Add(time.Millisecond)
	assert.False(t, ownPrior(mine, &stored))
	assert.False(t, ownPrior(mine, nil))
}

func TestRequest_RedemptionTimeIsStorePrecision(t *testing.T) {
	req := request("b1", "D1")
	req.RedeemedAt = t0.Add(987654321 * time.Nanosecond).In(time.FixedZone("CEST", 2*3600))
	rec := req.redemption()
	assert.Equal(t, time.UTC, rec.RedeemedAt.Location())
	assert.Equal(t, 987654000, rec.RedeemedAt.Nanosecond())
}

func TestReconcile_FlushesSpooledItems(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	rec := f.reconciler(history)
	ctx := context.Background()

	_, err := f.device.Redeem(ctx, request("b6", "D1"))
	require.NoError(t, err)
	_, err = f.device.Redeem(ctx, request("b6", "D1"))
	require.NoError(t, err)
	require.NoError(t, f.store.SpoolRecord(ctx, model.CheckinRecord{ID: "r-1", BookingID: "bx", Outcome: model.OutcomeRejected, Reason: model.ReasonExpired}))

	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReviewsFlushed)
	assert.Equal(t, 1, rep.RecordsFlushed)
	assert.True(t, rep.Remaining.Empty())

	items, _ := f.reviews.List(ctx, "", 0)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReviewLocal, items[0].Source)
	assert.Len(t, history.all(), 2)
}

func TestReconcile_HistoryFailureSpools(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{err: model.Unavailable(errors.New("down"))}
	rec := NewReconciler(ReconcilerConfig{
		Authority: f.remote,
		Store:     f.store,
		History:   history,
		Retry:     RetryPolicy{Attempts: 1},
		Logger:    quietLogger(),
	})
	ctx := context.Background()

	_, err := f.device.Redeem(ctx, request("b7", "D1"))
	require.NoError(t, err)
	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Redeemed)
	assert.Equal(t, 1, rep.Remaining.Records)
}

func TestReconciler_RunSettlesWhenOnline(t *testing.T) {
	f := newDeviceFixture(false)
	history := &memoryAppender{}
	fake := clock.NewFake(t0)
	rec := NewReconciler(ReconcilerConfig{
		Authority: f.remote,
		Store:     f.store,
		History:   history,
		Reviews:   f.reviews,
		Probe:     f.probe,
		Retry:     RetryPolicy{Attempts: 1},
		Interval:  time.Second,
		Clock:     fake,
		Logger:    quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.device.Redeem(ctx, request("b8", "D1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// Offline: ticks do nothing.
	fake.Advance(time.Second)
	settled, _ := rec.Settled(ctx)
	assert.False(t, settled)

	f.probe.set(true)
	require.Eventually(t, func() bool {
		fake.Advance(time.Second)
		ok, _ := rec.Settled(ctx)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, history.all(), 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
