package model

import "time"

// MaxTicketQuantity is the default upper bound on tickets covered by a
// single credential.  Issuer and Validator may be configured with a
// different limit but never above this value.
const MaxTicketQuantity = 50

// Booking is the subset of a confirmed booking that the credential issuer
// consumes.  Bookings are owned by the external booking system; this type
// is a read-only projection handed over at confirmation time.
type Booking struct {
    BookingID      string `json:"booking_id"`
    UserID         string `json:"user_id"`
    EventID        string `json:"event_id"`
    EventTitle     string `json:"event_title"`
    TicketQuantity int    `json:"ticket_quantity"`
}

// Credential is a signed right of entry tied to one booking.
//
// Fields:
//  BookingID: opaque booking identifier from the booking system.
//  UserID: attendee who owns the booking.
//  EventID: event the credential admits to.
//  EventTitle: human readable title shown to the operator.
//  TicketQuantity: number of people admitted (1..MaxTicketQuantity).
//  IssuedAt: Unix seconds, set once by the issuer.
//  KeyID: identifier of the signing key in the keyring.
//  Signature: HMAC-SHA-256 over all preceding fields.
//
// Credentials are immutable; any change to a field invalidates the
// signature.  The cbor tags define the compact wire form.
type Credential struct {
    BookingID      string `json:"booking_id" cbor:"1,keyasint"`
    UserID         string `json:"user_id" cbor:"2,keyasint"`
    EventID        string `json:"event_id" cbor:"3,keyasint"`
    EventTitle     string `json:"event_title" cbor:"4,keyasint"`
    TicketQuantity int    `json:"ticket_quantity" cbor:"5,keyasint"`
    IssuedAt       int64  `json:"issued_at" cbor:"6,keyasint"`
    KeyID          string `json:"key_id" cbor:"7,keyasint"`
    Signature      []byte `json:"signature" cbor:"8,keyasint"`
}

// IssuedTime returns IssuedAt as a UTC time.Time.
func (c Credential) IssuedTime() time.Time {
    return time.Unix(c.IssuedAt, 0).UTC()
}

// TicketState is the lifecycle of a single ticket as seen by a scanner.
type TicketState string

const (
    TicketIssued    TicketState = "ISSUED"
    TicketPresented TicketState = "PRESENTED"
    TicketValidated TicketState = "VALIDATED"
    TicketRedeemed  TicketState = "REDEEMED"
    TicketRejected  TicketState = "REJECTED"
)

// Terminal reports whether no further transition is possible without a
// human override.
func (s TicketState) Terminal() bool {
    return s == TicketRedeemed || s == TicketRejected
}
