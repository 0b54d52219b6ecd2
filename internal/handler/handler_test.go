package handler

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "io"
    "log/slog"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/event-checkin/internal/credential"
    "github.com/iliyamo/event-checkin/internal/history"
    "github.com/iliyamo/event-checkin/internal/ledger"
    "github.com/iliyamo/event-checkin/internal/model"
    "github.com/iliyamo/event-checkin/internal/repository"
    "github.com/iliyamo/event-checkin/internal/scan"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func keyring(t *testing.T) *credential.Keyring {
    t.Helper()
    k, err := credential.NewKeyring("k1", map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)})
    require.NoError(t, err)
    return k
}

type bookings map[string]model.Booking

func (b bookings) Booking(_ context.Context, id string) (model.Booking, error) {
    if id == "down" {
        return model.Booking{}, errors.New("db down")
    }
    bk, ok := b[id]
    if !ok {
        return model.Booking{}, repository.ErrNotFound
    }
    return bk, nil
}

// call runs h with the given JSON body as subject.
func call(h echo.HandlerFunc, method, target, body, subject string) *httptest.ResponseRecorder {
    e := echo.New()
    req := httptest.NewRequest(method, target, strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    if subject != "" {
        c.Set("user_id", subject)
    }
    _ = h(c)
    return rec
}

func TestCredentialHandler_Issue(t *testing.T) {
    h := &CredentialHandler{
        Issuer: credential.NewIssuer(keyring(t), nil, 0),
        Bookings: bookings{"b7": {BookingID: "b7", UserID: "u7", EventID: "E1", EventTitle: "Gala", TicketQuantity: 3}},
    }

    rec := call(h.Issue, http.MethodPost, "/v1/credentials",
        `{"booking_id":"b1","user_id":"u1","event_id":"E1","event_title":"Gala","ticket_quantity":2}`, "")
    require.Equal(t, http.StatusCreated, rec.Code)
    var out issueResponse
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    assert.Equal(t, "b1", out.Credential.BookingID)
    decoded, err := credential.Decode(out.Payload)
    require.NoError(t, err)
    assert.Equal(t, out.Credential, decoded)

    rec = call(h.Issue, http.MethodPost, "/v1/credentials", `{"booking_id":"b7"}`, "")
    require.Equal(t, http.StatusCreated, rec.Code)
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    assert.Equal(t, 3, out.Credential.TicketQuantity)
}

func TestCredentialHandler_IssueErrors(t *testing.T) {
    h := &CredentialHandler{Issuer: credential.NewIssuer(keyring(t), nil, 0), Bookings: bookings{}}

    rec := call(h.Issue, http.MethodPost, "/v1/credentials", `{"booking_id":"missing"}`, "")
    assert.Equal(t, http.StatusNotFound, rec.Code)

    rec = call(h.Issue, http.MethodPost, "/v1/credentials", `{"booking_id":"down"}`, "")
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

    rec = call(h.Issue, http.MethodPost, "/v1/credentials",
        `{"booking_id":"b1","user_id":"u1","event_id":"E1","event_title":"Gala","ticket_quantity":0}`, "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.JSONEq(t, `{"error":"INVALID_BOOKING: ticket_quantity must be positive, got 0","reason":"INVALID_BOOKING"}`, rec.Body.String())

    rec = call(h.Issue, http.MethodPost, "/v1/credentials", `{`, "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// downBackend fails every write.
type downBackend struct{ ledger.Backend }

func (downBackend) InsertIfAbsent(context.Context, model.Redemption) (*model.Redemption, bool, error) {
    return nil, false, errors.New("connection refused")
}

func scanHandler(t *testing.T, backend ledger.Backend) (*CheckinHandler, string) {
    t.Helper()
    keys := keyring(t)
    cred, err := credential.NewIssuer(keys, nil, 0).Issue(model.Booking{
        BookingID: "b1", UserID: "u1", EventID: "E1", EventTitle: "Gala", TicketQuantity: 2,
    })
    require.NoError(t, err)
    payload, err := credential.Encode(cred)
    require.NoError(t, err)

    store := history.NewMemoryStore()
    proc := scan.NewProcessor(scan.ProcessorConfig{
        Validator: credential.NewValidator(keys),
        Ledger:    ledger.New(backend, nil, ledger.WithLogger(quiet)),
        History:   store,
        Logger:    quiet,
    })
    return &CheckinHandler{Processor: proc, History: store}, payload
}

func TestCheckinHandler_Scan(t *testing.T) {
    h, payload := scanHandler(t, ledger.NewMemoryBackend())
    body := `{"payload":"` + payload + `","event_id":"E1"}`

    rec := call(h.Scan, http.MethodPost, "/v1/checkins/scan", body, "gate-a")
    require.Equal(t, http.StatusOK, rec.Code)
    var out scan.Outcome
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    assert.True(t, out.Accepted)
    require.NotNil(t, out.Record)
    assert.Equal(t, "gate-a", out.Record.DeviceID)

    rec = call(h.Scan, http.MethodPost, "/v1/checkins/scan", body, "gate-b")
    require.Equal(t, http.StatusOK, rec.Code)
    out = scan.Outcome{}
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    assert.False(t, out.Accepted)
    assert.Equal(t, model.ReasonDuplicateRedemption, out.Reason)

    rec = call(h.Scan, http.MethodPost, "/v1/checkins/scan", `{"payload":"x"}`, "gate-a")
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    recs, err := h.History.Query(context.Background(), history.Filter{})
    require.NoError(t, err)
    assert.Len(t, recs, 2)
}

func TestCheckinHandler_ScanLedgerDown(t *testing.T) {
    h, payload := scanHandler(t, downBackend{})
    rec := call(h.Scan, http.MethodPost, "/v1/checkins/scan", `{"payload":"`+payload+`","event_id":"E1"}`, "gate-a")
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
    assert.Contains(t, rec.Body.String(), `"NETWORK_UNAVAILABLE"`)

    // Nothing terminal happened, so nothing is recorded.
    recs, err := h.History.Query(context.Background(), history.Filter{})
    require.NoError(t, err)
    assert.Empty(t, recs)
}

func TestCheckinHandler_QueryAndExport(t *testing.T) {
    store := history.NewMemoryStore()
    h := &CheckinHandler{History: store}
    at := time.Date(2026, 6, 12, 18, 30, 0, 0, time.UTC)
    require.NoError(t, store.Append(context.Background(), model.CheckinRecord{
        BookingID: "b1", EventID: "E1", EventTitle: "Gala", Tickets: 12, CheckedInAt: at, Outcome: model.OutcomeRedeemed,
    }))

    rec := call(h.Query, http.MethodGet, "/v1/checkins?size=large", "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Contains(t, rec.Body.String(), `"booking_id":"b1"`)

    rec = call(h.Query, http.MethodGet, "/v1/checkins?size=huge", "", "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = call(h.Export, http.MethodGet, "/v1/checkins/export", "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, history.ExportContentType, rec.Header().Get(echo.HeaderContentType))
    assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment;")
    assert.True(t, strings.HasPrefix(rec.Body.String(), history.ExportHeader+"\n"))
}

func TestLedgerHandler_Reviews(t *testing.T) {
    reviews := ledger.NewMemoryReviewQueue()
    h := &LedgerHandler{Ledger: ledger.New(ledger.NewMemoryBackend(), reviews, ledger.WithLogger(quiet)), Reviews: reviews}

    rec := call(h.SubmitReview, http.MethodPost, "/v1/reviews",
        `{"id":"rv1","booking_id":"b1","event_id":"E1","reason":"DUPLICATE_REDEMPTION","source":"LOCAL"}`, "gate-a")
    require.Equal(t, http.StatusCreated, rec.Code)

    rec = call(h.SubmitReview, http.MethodPost, "/v1/reviews", `{"booking_id":"b1"}`, "gate-a")
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = call(h.ListReviews, http.MethodGet, "/v1/reviews?limit=5", "", "ops")
    require.Equal(t, http.StatusOK, rec.Code)
    var out struct {
        Items []model.ReviewItem `json:"items"`
    }
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    require.Len(t, out.Items, 1)
    assert.Equal(t, "gate-a", out.Items[0].DeviceID)

    rec = call(h.ListReviews, http.MethodGet, "/v1/reviews?limit=-1", "", "ops")
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
    up := PingFunc(func(context.Context) error { return nil })
    down := PingFunc(func(context.Context) error { return errors.New("gone") })

    rec := call(Health(up), http.MethodGet, "/healthz", "", "")
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "ok", rec.Body.String())

    rec = call(Health(up, down), http.MethodGet, "/healthz", "", "")
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
