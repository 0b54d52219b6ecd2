package model

import "time"

// Geolocation is an optional position reported by the scanning device.
type Geolocation struct {
    Latitude  float64 `json:"latitude" cbor:"1,keyasint"`
    Longitude float64 `json:"longitude" cbor:"2,keyasint"`
    Accuracy  float64 `json:"accuracy,omitempty" cbor:"3,keyasint,omitempty"`
}

// Redemption records the consumption of a credential.  At most one
// Redemption exists per BookingID and it is never updated or deleted
// once the authority has accepted it.
//
// Fields:
//  BookingID: unique key; one redemption per booking.
//  EventID: event the booking was admitted to.
//  DeviceID: scanner that performed the redemption.
//  RedeemedAt: when the attendee was admitted (device time).
//  Geolocation: optional device position.
//  Replayed: true when the write came from offline reconciliation.
type Redemption struct {
    BookingID   string       `json:"booking_id" cbor:"1,keyasint"`
    EventID     string       `json:"event_id" cbor:"2,keyasint"`
    DeviceID    string       `json:"device_id" cbor:"3,keyasint"`
    RedeemedAt  time.Time    `json:"redeemed_at" cbor:"4,keyasint"`
    Geolocation *Geolocation `json:"geolocation,omitempty" cbor:"5,keyasint,omitempty"`
    Replayed    bool         `json:"replayed,omitempty" cbor:"6,keyasint,omitempty"`
}

// RedemptionTime normalises a redemption timestamp to the precision the
// stores keep (MySQL DATETIME(6)), so a stored record compares equal to
// the request that wrote it.
func RedemptionTime(t time.Time) time.Time {
    return t.UTC().Truncate(time.Microsecond)
}

// ReviewSource tells an operator where a contested redemption was seen.
type ReviewSource string

const (
    ReviewOnline    ReviewSource = "ONLINE"    // live attempt rejected by the authority
    ReviewReconcile ReviewSource = "RECONCILE" // replayed offline attempt
    ReviewLocal     ReviewSource = "LOCAL"     // second attempt on the same offline device
)

// ReviewItem is an entry in the manual-review queue.  Contested or
// failed redemptions land here instead of being discarded so that an
// operator can see that a ticket was presented more than once.
type ReviewItem struct {
    ID          string       `json:"id" cbor:"1,keyasint"`
    BookingID   string       `json:"booking_id" cbor:"2,keyasint"`
    EventID     string       `json:"event_id" cbor:"3,keyasint"`
    DeviceID    string       `json:"device_id" cbor:"4,keyasint"`
    AttemptedAt time.Time    `json:"attempted_at" cbor:"5,keyasint"`
    Reason      Reason       `json:"reason" cbor:"6,keyasint"`
    Detail      string       `json:"detail,omitempty" cbor:"7,keyasint,omitempty"`
    Source      ReviewSource `json:"source" cbor:"8,keyasint"`
    Prior       *Redemption  `json:"prior,omitempty" cbor:"9,keyasint,omitempty"`
}
