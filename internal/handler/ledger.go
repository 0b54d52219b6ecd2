package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/event-checkin/internal/ledger"
    "github.com/iliyamo/event-checkin/internal/middleware"
    "github.com/iliyamo/event-checkin/internal/model"
)

// LedgerHandler exposes the authoritative ledger to scanning devices.
type LedgerHandler struct {
    Ledger  ledger.Authority
    Reviews ledger.ReviewQueue
}

// Redeem handles POST /v1/ledger/redemptions.  It answers 200 when this
// call consumed the booking, 409 with the prior redemption when it was
// already consumed and 503 when the store cannot be reached.  A device
// may only redeem in its own name.
func (h *LedgerHandler) Redeem(c echo.Context) error {
    var req ledger.Request
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid request body", nil)
    }
    device := middleware.Subject(c)
    if req.DeviceID == "" {
        req.DeviceID = device
    }
    if req.DeviceID != device {
        return fail(c, http.StatusForbidden, "device_id does not match token", nil)
    }

    res, err := h.Ledger.Redeem(c.Request().Context(), req)
    switch {
    case model.IsUnavailable(err):
        return unavailable(c, err)
    case err != nil:
        return fail(c, http.StatusBadRequest, err.Error(), err)
    case res.Outcome == ledger.OutcomeDuplicate:
        return c.JSON(http.StatusConflict, res)
    }
    return c.JSON(http.StatusOK, res)
}

// SubmitReview handles POST /v1/reviews.  Devices forward locally raised
// review items here once they are back online.
func (h *LedgerHandler) SubmitReview(c echo.Context) error {
    var item model.ReviewItem
    if err := c.Bind(&item); err != nil {
        return fail(c, http.StatusBadRequest, "invalid request body", nil)
    }
    if item.ID == "" || item.BookingID == "" || item.Reason == "" {
        return fail(c, http.StatusBadRequest, "id, booking_id and reason are required", nil)
    }
    if item.DeviceID == "" {
        item.DeviceID = middleware.Subject(c)
    }
    if err := h.Reviews.Submit(c.Request().Context(), item); err != nil {
        return unavailable(c, err)
    }
    return c.NoContent(http.StatusCreated)
}

// ListReviews handles GET /v1/reviews?event_id=&limit=.
func (h *LedgerHandler) ListReviews(c echo.Context) error {
    limit, err := queryInt(c, "limit", 100)
    if err != nil {
        return fail(c, http.StatusBadRequest, err.Error(), nil)
    }
    items, err := h.Reviews.List(c.Request().Context(), c.QueryParam("event_id"), limit)
    if err != nil {
        return unavailable(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}
