package handler

import (
    "context"
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/event-checkin/internal/credential"
    "github.com/iliyamo/event-checkin/internal/model"
    "github.com/iliyamo/event-checkin/internal/repository"
)

// BookingSource loads confirmed bookings by id.
type BookingSource interface {
    Booking(ctx context.Context, bookingID string) (model.Booking, error)
}

// CredentialHandler issues credentials for the booking system.
type CredentialHandler struct {
    Issuer   *credential.Issuer
    Bookings BookingSource // optional; enables issuing by booking id alone
}

// issueResponse carries the credential and its encoded payload, which the
// booking system renders into the attendee's QR code.
type issueResponse struct {
    Credential model.Credential `json:"credential"`
    Payload    string           `json:"payload"`
}

// Issue handles POST /v1/credentials.  The body is either a full booking
// or just {"booking_id": ...} when a booking source is configured.
func (h *CredentialHandler) Issue(c echo.Context) error {
    var b model.Booking
    if err := c.Bind(&b); err != nil {
        return fail(c, http.StatusBadRequest, "invalid request body", nil)
    }
    b.BookingID = strings.TrimSpace(b.BookingID)
    if b.EventID == "" && b.BookingID != "" && h.Bookings != nil {
        loaded, err := h.Bookings.Booking(c.Request().Context(), b.BookingID)
        switch {
        case errors.Is(err, repository.ErrNotFound):
            return fail(c, http.StatusNotFound, "booking not found", nil)
        case err != nil:
            return unavailable(c, err)
        }
        b = loaded
    }

    cred, err := h.Issuer.Issue(b)
    if err != nil {
        return fail(c, http.StatusBadRequest, err.Error(), err)
    }
    payload, err := credential.Encode(cred)
    if err != nil {
        return fail(c, http.StatusInternalServerError, "could not encode credential", nil)
    }
    return c.JSON(http.StatusCreated, issueResponse{Credential: cred, Payload: payload})
}
