package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"

    "github.com/iliyamo/event-checkin/internal/model"
)

// ReviewRepo is the manual-review queue.  Items are only ever inserted;
// operators work through them outside this service.
type ReviewRepo struct{ DB *sql.DB }

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{DB: db} }

// Submit implements ledger.ReviewQueue.  Resubmitting an item with the
// same id is a no-op so that spooled items can be flushed twice.
func (r *ReviewRepo) Submit(ctx context.Context, item model.ReviewItem) error {
    var prior sql.NullString
    if item.Prior != nil {
        raw, err := json.Marshal(item.Prior)
        if err != nil {
            return fmt.Errorf("encode prior redemption: %w", err)
        }
        prior = sql.NullString{String: string(raw), Valid: true}
    }
    _, err := r.DB.ExecContext(ctx,
        `INSERT INTO review_items (id, booking_id, event_id, device_id, attempted_at, reason, detail, source, prior)
         VALUES (?,?,?,?,?,?,?,?,?)`,
        item.ID, item.BookingID, item.EventID, item.DeviceID, item.AttemptedAt.UTC(),
        string(item.Reason), item.Detail, string(item.Source), prior)
    if isDuplicateKey(err) {
        return nil
    }
    return err
}

// List implements ledger.ReviewQueue, newest first.  An empty eventID
// lists all events; limit <= 0 means no limit.
func (r *ReviewRepo) List(ctx context.Context, eventID string, limit int) ([]model.ReviewItem, error) {
    q := "SELECT id, booking_id, event_id, device_id, attempted_at, reason, detail, source, prior FROM review_items"
    var args []any
    if eventID != "" {
        q += " WHERE event_id=?"
        args = append(args, eventID)
    }
    q += " ORDER BY attempted_at DESC, id"
    if limit > 0 {
        q += " LIMIT ?"
        args = append(args, limit)
    }
    rows, err := r.DB.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    items := []model.ReviewItem{}
    for rows.Next() {
        var (
            it     model.ReviewItem
            reason string
            source string
            prior  sql.NullString
        )
        if err := rows.Scan(&it.ID, &it.BookingID, &it.EventID, &it.DeviceID, &it.AttemptedAt,
            &reason, &it.Detail, &source, &prior); err != nil {
            return nil, err
        }
        it.AttemptedAt = utc(it.AttemptedAt)
        it.Reason = model.Reason(reason)
        it.Source = model.ReviewSource(source)
        if prior.Valid && prior.String != "" {
            var p model.Redemption
            if err := json.Unmarshal([]byte(prior.String), &p); err != nil {
                return nil, fmt.Errorf("decode prior of review %s: %w", it.ID, err)
            }
            it.Prior = &p
        }
        items = append(items, it)
    }
    return items, rows.Err()
}
