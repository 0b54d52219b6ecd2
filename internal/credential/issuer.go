package credential

import (
	"strings"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Issuer builds signed credentials from confirmed bookings.  It has no
// side effects; the caller stores the credential next to the booking.
type Issuer struct {
	keys        *Keyring
	clock       clock.Clock
	maxQuantity int
}

// NewIssuer returns an Issuer signing with the keyring's active key.  A
// maxQuantity of zero uses model.MaxTicketQuantity.
func NewIssuer(keys *Keyring, c clock.Clock, maxQuantity int) *Issuer {
	if keys == nil {
		panic("nil keyring passed to NewIssuer")
	}
	if c == nil {
		c = clock.Real()
	}
	if maxQuantity <= 0 || maxQuantity > model.MaxTicketQuantity {
		maxQuantity = model.MaxTicketQuantity
	}
	return &Issuer{keys: keys, clock: c, maxQuantity: maxQuantity}
}

// Issue validates the booking and returns a freshly signed credential.
// It fails with model.ErrInvalidBooking when a required field is empty or
// the ticket quantity is out of range.
func (i *Issuer) Issue(b model.Booking) (model.Credential, error) {
	switch {
	case strings.TrimSpace(b.BookingID) == "":
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "booking_id is required")
	case strings.TrimSpace(b.UserID) == "":
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "user_id is required")
	case strings.TrimSpace(b.EventID) == "":
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "event_id is required")
	case strings.TrimSpace(b.EventTitle) == "":
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "event_title is required")
	case b.TicketQuantity <= 0:
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "ticket_quantity must be positive, got %d", b.TicketQuantity)
	case b.TicketQuantity > i.maxQuantity:
		return model.Credential{}, model.Errorf(model.ReasonInvalidBooking, "ticket_quantity %d exceeds limit %d", b.TicketQuantity, i.maxQuantity)
	}

	c := model.Credential{
		BookingID:      b.BookingID,
		UserID:         b.UserID,
		EventID:        b.EventID,
		EventTitle:     b.EventTitle,
		TicketQuantity: b.TicketQuantity,
		IssuedAt:       i.clock.Now().Unix(),
		KeyID:          i.keys.ActiveID(),
	}
	key, _ := i.keys.key(c.KeyID)
	c.Signature = computeMAC(key, c)
	return c, nil
}
