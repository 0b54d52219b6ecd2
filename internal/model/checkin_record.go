package model

import (
    "fmt"
    "time"

    "github.com/shopspring/decimal"
)

// Attendee is the read-only view of a booking's customer details that the
// history store needs for exports.  It is looked up from the external
// booking system by booking ID.
type Attendee struct {
    Name   string          `json:"name"`
    Email  string          `json:"email"`
    Amount decimal.Decimal `json:"amount"`
}

// Outcome is the terminal result recorded in the check-in history.
type Outcome string

const (
    OutcomeRedeemed   Outcome = "REDEEMED"
    OutcomeRejected   Outcome = "REJECTED"
    OutcomeOverridden Outcome = "OVERRIDDEN"
)

// CheckinRecord is one append-only entry of the check-in history.  Every
// terminal scan outcome produces exactly one record, including the reason
// for rejections.
type CheckinRecord struct {
    ID          string          `json:"id" cbor:"1,keyasint"`
    BookingID   string          `json:"booking_id" cbor:"2,keyasint"`
    UserID      string          `json:"user_id" cbor:"3,keyasint"`
    UserName    string          `json:"user_name" cbor:"4,keyasint"`
    UserEmail   string          `json:"user_email" cbor:"5,keyasint"`
    EventID     string          `json:"event_id" cbor:"6,keyasint"`
    EventTitle  string          `json:"event_title" cbor:"7,keyasint"`
    Tickets     int             `json:"tickets" cbor:"8,keyasint"`
    Amount      decimal.Decimal `json:"amount" cbor:"9,keyasint"`
    DeviceID    string          `json:"device_id" cbor:"10,keyasint"`
    CheckedInAt time.Time       `json:"checked_in_at" cbor:"11,keyasint"`
    Location    *Geolocation    `json:"location,omitempty" cbor:"12,keyasint,omitempty"`
    Outcome     Outcome         `json:"outcome" cbor:"13,keyasint"`
    Reason      Reason          `json:"reason,omitempty" cbor:"14,keyasint,omitempty"`
    Warnings    []string        `json:"warnings,omitempty" cbor:"15,keyasint,omitempty"`
    Note        string          `json:"note,omitempty" cbor:"16,keyasint,omitempty"`
}

// LocationString renders the record location as "lat,lng" or an empty
// string when the device did not report one.
func (r CheckinRecord) LocationString() string {
    if r.Location == nil {
        return ""
    }
    return fmt.Sprintf("%.6f,%.6f", r.Location.Latitude, r.Location.Longitude)
}
