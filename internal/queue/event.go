// Package queue defines message payloads exchanged over the message broker.
package queue

import (
    "time"

    "github.com/iliyamo/event-checkin/internal/model"
)

// CheckinRecordedEvent is published for every record appended to the
// check-in history.  It carries enough for downstream consumers to log,
// notify or aggregate without querying the database.
type CheckinRecordedEvent struct {
    RecordID    string   `json:"record_id"`
    BookingID   string   `json:"booking_id"`
    EventID     string   `json:"event_id"`
    EventTitle  string   `json:"event_title"`
    DeviceID    string   `json:"device_id"`
    Tickets     int      `json:"tickets"`
    Outcome     string   `json:"outcome"`
    Reason      string   `json:"reason,omitempty"`
    Warnings    []string `json:"warnings,omitempty"`
    Location    string   `json:"location,omitempty"`
    CheckedInAt string   `json:"checked_in_at"`
}

// NewCheckinRecordedEvent builds the event for r.
func NewCheckinRecordedEvent(r model.CheckinRecord) CheckinRecordedEvent {
    return CheckinRecordedEvent{
        RecordID:    r.ID,
        BookingID:   r.BookingID,
        EventID:     r.EventID,
        EventTitle:  r.EventTitle,
        DeviceID:    r.DeviceID,
        Tickets:     r.Tickets,
        Outcome:     string(r.Outcome),
        Reason:      string(r.Reason),
        Warnings:    r.Warnings,
        Location:    r.LocationString(),
        CheckedInAt: r.CheckedInAt.UTC().Format(time.RFC3339),
    }
}
