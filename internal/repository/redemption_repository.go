package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/event-checkin/internal/ledger"
    "github.com/iliyamo/event-checkin/internal/model"
)

// RedemptionRepo is the authoritative ledger backend.  The primary key
// on booking_id turns a plain INSERT into the conditional write: the
// first row MySQL commits wins and every later insert fails with 1062.
type RedemptionRepo struct{ DB *sql.DB }

func NewRedemptionRepo(db *sql.DB) *RedemptionRepo { return &RedemptionRepo{DB: db} }

const redemptionColumns = "booking_id, event_id, device_id, redeemed_at, latitude, longitude, accuracy, replayed"

// InsertIfAbsent implements ledger.Backend.
func (r *RedemptionRepo) InsertIfAbsent(ctx context.Context, red model.Redemption) (*model.Redemption, bool, error) {
    lat, lng, acc := geoArgs(red.Geolocation)
    _, err := r.DB.ExecContext(ctx,
        "INSERT INTO redemptions ("+redemptionColumns+") VALUES (?,?,?,?,?,?,?,?)",
        red.BookingID, red.EventID, red.DeviceID, model.RedemptionTime(red.RedeemedAt), lat, lng, acc, red.Replayed)
    if err == nil {
        return nil, true, nil
    }
    if !isDuplicateKey(err) {
        return nil, false, err
    }
    prior, err := r.Get(ctx, red.BookingID)
    if err != nil {
        return nil, false, fmt.Errorf("load prior redemption: %w", err)
    }
    return prior, false, nil
}

// Get implements ledger.Backend.
func (r *RedemptionRepo) Get(ctx context.Context, bookingID string) (*model.Redemption, error) {
    var (
        red           model.Redemption
        lat, lng, acc sql.NullFloat64
    )
    err := r.DB.QueryRowContext(ctx,
        "SELECT "+redemptionColumns+" FROM redemptions WHERE booking_id=? LIMIT 1",
        bookingID).Scan(&red.BookingID, &red.EventID, &red.DeviceID, &red.RedeemedAt, &lat, &lng, &acc, &red.Replayed)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ledger.ErrNotFound
    }
    if err != nil {
        return nil, err
    }
    red.RedeemedAt = red.RedeemedAt.UTC()
    red.Geolocation = geoFrom(lat, lng, acc)
    return &red, nil
}

func geoArgs(g *model.Geolocation) (lat, lng, acc sql.NullFloat64) {
    if g == nil {
        return
    }
    return sql.NullFloat64{Float64: g.Latitude, Valid: true},
        sql.NullFloat64{Float64: g.Longitude, Valid: true},
        sql.NullFloat64{Float64: g.Accuracy, Valid: g.Accuracy != 0}
}

func geoFrom(lat, lng, acc sql.NullFloat64) *model.Geolocation {
    if !lat.Valid || !lng.Valid {
        return nil
    }
    return &model.Geolocation{Latitude: lat.Float64, Longitude: lng.Float64, Accuracy: acc.Float64}
}

// utc normalises times read back from the driver.
func utc(t time.Time) time.Time { return t.UTC() }
