package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/event-checkin/internal/model"
)

// BookingRepo reads the bookings table owned by the booking system.
// This service never writes to it.
type BookingRepo struct{ DB *sql.DB }

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{DB: db} }

// Booking returns the issuance view of a confirmed booking.
func (r *BookingRepo) Booking(ctx context.Context, bookingID string) (model.Booking, error) {
    var b model.Booking
    err := r.DB.QueryRowContext(ctx,
        "SELECT id, user_id, event_id, event_title, ticket_quantity FROM bookings WHERE id=? AND status='CONFIRMED' LIMIT 1",
        bookingID).Scan(&b.BookingID, &b.UserID, &b.EventID, &b.EventTitle, &b.TicketQuantity)
    if errors.Is(err, sql.ErrNoRows) {
        return b, ErrNotFound
    }
    return b, err
}

// Attendee implements scan.AttendeeLookup.
func (r *BookingRepo) Attendee(ctx context.Context, bookingID string) (model.Attendee, error) {
    var (
        a      model.Attendee
        amount string
    )
    err := r.DB.QueryRowContext(ctx,
        "SELECT user_name, user_email, amount FROM bookings WHERE id=? LIMIT 1",
        bookingID).Scan(&a.Name, &a.Email, &amount)
    if errors.Is(err, sql.ErrNoRows) {
        return a, ErrNotFound
    }
    if err != nil {
        return a, err
    }
    a.Amount, err = decimal.NewFromString(amount)
    return a, err
}
