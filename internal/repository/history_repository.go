package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "strings"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/event-checkin/internal/history"
    "github.com/iliyamo/event-checkin/internal/model"
)

// HistoryRepo is the append-only check-in history in MySQL.
type HistoryRepo struct{ DB *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

const historyColumns = "id, booking_id, user_id, user_name, user_email, event_id, event_title, tickets, amount, " +
    "device_id, checked_in_at, latitude, longitude, accuracy, outcome, reason, warnings, note"

// Append implements history.Store.  A record without an id gets one;
// a repeated id fails with history.ErrDuplicateRecord.
func (r *HistoryRepo) Append(ctx context.Context, rec model.CheckinRecord) error {
    if rec.ID == "" {
        rec.ID = uuid.NewString()
    }
    var warnings sql.NullString
    if len(rec.Warnings) > 0 {
        raw, err := json.Marshal(rec.Warnings)
        if err != nil {
            return fmt.Errorf("encode warnings: %w", err)
        }
        warnings = sql.NullString{String: string(raw), Valid: true}
    }
    lat, lng, acc := geoArgs(rec.Location)
    _, err := r.DB.ExecContext(ctx,
        "INSERT INTO checkin_history ("+historyColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
        rec.ID, rec.BookingID, rec.UserID, rec.UserName, rec.UserEmail, rec.EventID, rec.EventTitle,
        rec.Tickets, rec.Amount.StringFixed(2), rec.DeviceID, rec.CheckedInAt.UTC(), lat, lng, acc,
        string(rec.Outcome), string(rec.Reason), warnings, rec.Note)
    if isDuplicateKey(err) {
        return fmt.Errorf("%w: %s", history.ErrDuplicateRecord, rec.ID)
    }
    return err
}

// Query implements history.Store.  The filter is translated to SQL;
// search is a case-insensitive substring match.
func (r *HistoryRepo) Query(ctx context.Context, f history.Filter) ([]model.CheckinRecord, error) {
    q, args := historyQuery(f)
    rows, err := r.DB.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    out := []model.CheckinRecord{}
    for rows.Next() {
        rec, err := scanCheckin(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, rec)
    }
    return out, rows.Err()
}

func historyQuery(f history.Filter) (string, []any) {
    var (
        where []string
        args  []any
    )
    if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
        like := "%" + escapeLike(s) + "%"
        where = append(where, "(LOWER(booking_id) LIKE ? OR LOWER(user_name) LIKE ? OR LOWER(user_email) LIKE ? OR LOWER(event_title) LIKE ?)")
        args = append(args, like, like, like, like)
    }
    if f.Size != history.SizeAny {
        lo, hi := f.Size.Bounds()
        where = append(where, "tickets >= ?")
        args = append(args, lo)
        if hi > 0 {
            where = append(where, "tickets <= ?")
            args = append(args, hi)
        }
    }
    if f.EventID != "" {
        where = append(where, "event_id = ?")
        args = append(args, f.EventID)
    }
    if f.Outcome != "" {
        where = append(where, "outcome = ?")
        args = append(args, string(f.Outcome))
    }
    if !f.From.IsZero() {
        where = append(where, "checked_in_at >= ?")
        args = append(args, f.From.UTC())
    }
    if !f.To.IsZero() {
        where = append(where, "checked_in_at <= ?")
        args = append(args, f.To.UTC())
    }

    q := "SELECT " + historyColumns + " FROM checkin_history"
    if len(where) > 0 {
        q += " WHERE " + strings.Join(where, " AND ")
    }
    if f.OldestFirst {
        q += " ORDER BY checked_in_at ASC, id ASC"
    } else {
        q += " ORDER BY checked_in_at DESC, id DESC"
    }
    if f.Limit > 0 {
        q += " LIMIT ?"
        args = append(args, f.Limit)
    }
    return q, args
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
    return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func scanCheckin(rows *sql.Rows) (model.CheckinRecord, error) {
    var (
        rec           model.CheckinRecord
        amount        string
        lat, lng, acc sql.NullFloat64
        outcome       string
        reason        string
        warnings      sql.NullString
    )
    if err := rows.Scan(&rec.ID, &rec.BookingID, &rec.UserID, &rec.UserName, &rec.UserEmail,
        &rec.EventID, &rec.EventTitle, &rec.Tickets, &amount, &rec.DeviceID, &rec.CheckedInAt,
        &lat, &lng, &acc, &outcome, &reason, &warnings, &rec.Note); err != nil {
        return rec, err
    }
    d, err := decimal.NewFromString(amount)
    if err != nil {
        return rec, fmt.Errorf("parse amount of %s: %w", rec.ID, err)
    }
    rec.Amount = d
    rec.CheckedInAt = utc(rec.CheckedInAt)
    rec.Location = geoFrom(lat, lng, acc)
    rec.Outcome = model.Outcome(outcome)
    rec.Reason = model.Reason(reason)
    if warnings.Valid && warnings.String != "" {
        if err := json.Unmarshal([]byte(warnings.String), &rec.Warnings); err != nil {
            return rec, fmt.Errorf("decode warnings of %s: %w", rec.ID, err)
        }
    }
    return rec, nil
}
