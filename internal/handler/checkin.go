package handler

import (
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/event-checkin/internal/history"
    "github.com/iliyamo/event-checkin/internal/middleware"
    "github.com/iliyamo/event-checkin/internal/model"
    "github.com/iliyamo/event-checkin/internal/scan"
)

// CheckinHandler serves the check-in history and the server-side scan
// pipeline used by thin scanners that cannot validate locally.
type CheckinHandler struct {
    Processor *scan.Processor
    History   history.Store
}

type scanRequest struct {
    Payload  string             `json:"payload"`
    EventID  string             `json:"event_id"`
    Location *model.Geolocation `json:"location,omitempty"`
}

// Scan handles POST /v1/checkins/scan.  The response is always 200 with
// the outcome unless the ledger is unreachable, which is a 503 so the
// device can retry or queue.
func (h *CheckinHandler) Scan(c echo.Context) error {
    var req scanRequest
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid request body", nil)
    }
    if strings.TrimSpace(req.Payload) == "" || strings.TrimSpace(req.EventID) == "" {
        return fail(c, http.StatusBadRequest, "payload and event_id are required", nil)
    }
    out := h.Processor.Process(c.Request().Context(), req.Payload, scan.Session{
        EventID:  req.EventID,
        DeviceID: middleware.Subject(c),
        Location: req.Location,
    })
    if out.Retryable() {
        return c.JSON(http.StatusServiceUnavailable, out)
    }
    return c.JSON(http.StatusOK, out)
}

// Append handles POST /v1/checkins: a device forwarding a record it
// produced itself.  Appending the same record id twice answers 409.
func (h *CheckinHandler) Append(c echo.Context) error {
    var rec model.CheckinRecord
    if err := c.Bind(&rec); err != nil {
        return fail(c, http.StatusBadRequest, "invalid request body", nil)
    }
    switch rec.Outcome {
    case model.OutcomeRedeemed, model.OutcomeRejected, model.OutcomeOverridden:
    default:
        return fail(c, http.StatusBadRequest, "unknown outcome", nil)
    }
    if rec.EventID == "" || rec.CheckedInAt.IsZero() {
        return fail(c, http.StatusBadRequest, "event_id and checked_in_at are required", nil)
    }
    if rec.DeviceID == "" {
        rec.DeviceID = middleware.Subject(c)
    }
    err := h.History.Append(c.Request().Context(), rec)
    switch {
    case errors.Is(err, history.ErrDuplicateRecord):
        return fail(c, http.StatusConflict, "record already appended", nil)
    case err != nil:
        return unavailable(c, err)
    }
    return c.NoContent(http.StatusCreated)
}

// Query handles GET /v1/checkins with the history filter parameters
// (q, size, event_id, outcome, from, to, order, limit).
func (h *CheckinHandler) Query(c echo.Context) error {
    f, err := history.ParseFilter(c.QueryParams())
    if err != nil {
        return fail(c, http.StatusBadRequest, err.Error(), nil)
    }
    recs, err := h.History.Query(c.Request().Context(), f)
    if err != nil {
        return unavailable(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"records": recs})
}

// Export handles GET /v1/checkins/export and downloads the filtered
// records as CSV.
func (h *CheckinHandler) Export(c echo.Context) error {
    f, err := history.ParseFilter(c.QueryParams())
    if err != nil {
        return fail(c, http.StatusBadRequest, err.Error(), nil)
    }
    recs, err := h.History.Query(c.Request().Context(), f)
    if err != nil {
        return unavailable(c, err)
    }
    resp := c.Response()
    resp.Header().Set(echo.HeaderContentType, history.ExportContentType)
    resp.Header().Set(echo.HeaderContentDisposition,
        fmt.Sprintf("attachment; filename=%q", history.ExportFilename(time.Now())))
    resp.WriteHeader(http.StatusOK)
    return history.Export(resp, recs)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(c echo.Context, name string, def int) (int, error) {
    s := c.QueryParam(name)
    if s == "" {
        return def, nil
    }
    n, err := strconv.Atoi(s)
    if err != nil || n < 0 {
        return 0, fmt.Errorf("invalid %s %q", name, s)
    }
    return n, nil
}
