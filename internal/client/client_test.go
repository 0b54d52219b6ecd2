package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-checkin/internal/handler"
	"github.com/iliyamo/event-checkin/internal/history"
	"github.com/iliyamo/event-checkin/internal/ledger"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/router"
	"github.com/iliyamo/event-checkin/internal/utils"
)

const secret = "test-secret"

// flakyBackend is a memory backend that can be taken down.
type flakyBackend struct {
	*ledger.MemoryBackend
	down atomic.Bool
}

func (f *flakyBackend) InsertIfAbsent(ctx context.Context, r model.Redemption) (*model.Redemption, bool, error) {
	if f.down.Load() {
		return nil, false, errors.New("connection refused")
	}
	return f.MemoryBackend.InsertIfAbsent(ctx, r)
}

func (f *flakyBackend) ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

type testServer struct {
	url     string
	backend *flakyBackend
	reviews *ledger.MemoryReviewQueue
	history *history.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		backend: &flakyBackend{MemoryBackend: ledger.NewMemoryBackend()},
		reviews: ledger.NewMemoryReviewQueue(),
		history: history.NewMemoryStore(),
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := echo.New()
	e.HideBanner = true
	d := router.Deps{
		JWTSecret: secret,
		Health:    handler.Health(handler.PingFunc(ts.backend.ping)),
		Ledger: &handler.LedgerHandler{
			Ledger:  ledger.New(ts.backend, ts.reviews, ledger.WithLogger(quiet)),
			Reviews: ts.reviews,
		},
		Checkins:    &handler.CheckinHandler{History: ts.history},
		Credentials: &handler.CredentialHandler{},
	}
	router.RegisterRoutes(e, d)
	router.RegisterAPI(e, d)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	return ts
}

func (ts *testServer) client(t *testing.T, subject, role string) *Client {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, subject, role, time.Hour)
	require.NoError(t, err)
	c, err := New(ts.url, tok.Token, 2*time.Second)
	require.NoError(t, err)
	return c
}

func req(booking, device string) ledger.Request {
	return ledger.Request{BookingID: booking, EventID: "E1", DeviceID: device, RedeemedAt: time.Now().UTC()}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", "", 0)
	assert.Error(t, err)
	_, err = New("://", "", 0)
	assert.Error(t, err)
}

func TestClient_RedeemThenDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gateA := ts.client(t, "gate-a", utils.RoleDevice)
	gateB := ts.client(t, "gate-b", utils.RoleDevice)

	res, err := gateA.Redeem(ctx, req("b1", "gate-a"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSuccess, res.Outcome)

	res, err = gateB.Redeem(ctx, req("b1", "gate-b"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.Prior)
	assert.Equal(t, "gate-a", res.Prior.DeviceID)

	items, err := ts.client(t, "ops", utils.RoleOperator).List(ctx, "E1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "gate-b", items[0].DeviceID)
	assert.Equal(t, model.ReviewOnline, items[0].Source)
}

func TestClient_AuthErrors(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gateA := ts.client(t, "gate-a", utils.RoleDevice)

	// A device cannot redeem in another device's name.
	_, err := gateA.Redeem(ctx, req("b1", "gate-b"))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Reviews are for operators.
	_, err = gateA.List(ctx, "", 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	anon, err := New(ts.url, "", time.Second)
	require.NoError(t, err)
	_, err = anon.Redeem(ctx, req("b1", "gate-a"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_BackendDownIsUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gateA := ts.client(t, "gate-a", utils.RoleDevice)
	require.True(t, gateA.Online(ctx))

	ts.backend.down.Store(true)
	assert.False(t, gateA.Online(ctx))
	_, err := gateA.Redeem(ctx, req("b1", "gate-a"))
	assert.True(t, model.IsUnavailable(err))
	assert.Equal(t, model.ReasonNetworkUnavailable, model.ReasonOf(err))
}

func TestClient_UnreachableServer(t *testing.T) {
	c, err := New("http://127.0.0.1:1", "x", 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, c.Online(context.Background()))
	_, err = c.Redeem(context.Background(), req("b1", "gate-a"))
	assert.True(t, model.IsUnavailable(err))
}

func TestClient_BadRequestCarriesMessage(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.client(t, "gate-a", utils.RoleDevice).Redeem(context.Background(), ledger.Request{DeviceID: "gate-a"})
	require.Error(t, err)
	assert.False(t, model.IsUnavailable(err))
	assert.Contains(t, err.Error(), "booking_id is required")
}

func TestClient_HistoryAppendQueryExport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gateA := ts.client(t, "gate-a", utils.RoleDevice)
	ops := ts.client(t, "ops", utils.RoleOperator)

	at := time.Date(2026, 6, 12, 19, 0, 0, 0, time.UTC)
	rec := model.CheckinRecord{
		ID: "r1", BookingID: "b1", UserName: "Ada Lovelace", EventID: "E1", EventTitle: "Gala",
		Tickets: 2, CheckedInAt: at, Outcome: model.OutcomeRedeemed,
	}
	require.NoError(t, gateA.Append(ctx, rec))
	// Resending a spooled record is harmless.
	require.NoError(t, gateA.Append(ctx, rec))

	got, err := ops.Query(ctx, history.Filter{Search: "lovelace"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gate-a", got[0].DeviceID)
	assert.True(t, at.Equal(got[0].CheckedInAt))

	got, err = ops.Query(ctx, history.Filter{Size: history.SizeLarge})
	require.NoError(t, err)
	assert.Empty(t, got)

	var buf bytes.Buffer
	require.NoError(t, ops.Export(ctx, history.Filter{}, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, history.ExportHeader, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "b1,Ada Lovelace,"))

	err = gateA.Append(ctx, model.CheckinRecord{ID: "r2", EventID: "E1", CheckedInAt: at, Outcome: "MAYBE"})
	assert.Error(t, err)
	assert.False(t, model.IsUnavailable(err))
}

func TestClient_OfflineRedemptionReconciles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gateA := ts.client(t, "gate-a", utils.RoleDevice)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewMemoryOfflineStore()
	retry := ledger.RetryPolicy{Attempts: 1, AttemptTimeout: time.Second}

	device := ledger.NewDeviceLedger(ledger.DeviceConfig{
		Remote: gateA, Store: store, Probe: gateA, Retry: retry, Logger: quiet,
	})
	rec := ledger.NewReconciler(ledger.ReconcilerConfig{
		Authority: gateA, Store: store, History: gateA, Outbox: gateA, Reviews: gateA,
		Probe: gateA, Retry: retry, Logger: quiet,
	})

	ts.backend.down.Store(true)
	r := req("b2", "gate-a")
	r.Record = &model.CheckinRecord{ID: "r-b2", EventTitle: "Gala", Tickets: 2}
	res, err := device.Redeem(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeTentative, res.Outcome)

	// Still offline: the pass stops and keeps the entry.
	rep, err := rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 1, rep.Remaining.Pending)

	ts.backend.down.Store(false)
	rep, err = rec.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Redeemed)
	settled, err := rec.Settled(ctx)
	require.NoError(t, err)
	assert.True(t, settled)

	got, err := ts.history.Query(ctx, history.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b2", got[0].BookingID)
	assert.Equal(t, model.OutcomeRedeemed, got[0].Outcome)

	stored, err := ts.backend.Get(ctx, "b2")
	require.NoError(t, err)
	assert.True(t, stored.Replayed)
}
