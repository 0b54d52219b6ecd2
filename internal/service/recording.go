package service

import (
    "context"
    "log/slog"
    "time"

    "github.com/google/uuid"

    "github.com/iliyamo/event-checkin/internal/history"
    "github.com/iliyamo/event-checkin/internal/model"
    q "github.com/iliyamo/event-checkin/internal/queue"
)

// DefaultNotifyTimeout bounds each sink call made after an append.
const DefaultNotifyTimeout = 3 * time.Second

// Sink receives an event for every appended check-in record.
type Sink interface {
    CheckinRecorded(ctx context.Context, ev q.CheckinRecordedEvent) error
}

// RecordingStore wraps a history.Store and fans every successful
// Append out to the sinks.  Sink failures are logged and never fail the
// append: the history row is the record of truth.
type RecordingStore struct {
    history.Store
    sinks   []Sink
    timeout time.Duration
    log     *slog.Logger
}

func NewRecordingStore(store history.Store, log *slog.Logger, sinks ...Sink) *RecordingStore {
    if log == nil {
        log = slog.Default()
    }
    return &RecordingStore{Store: store, sinks: sinks, timeout: DefaultNotifyTimeout, log: log}
}

// WithTimeout sets the per-sink timeout.
func (s *RecordingStore) WithTimeout(d time.Duration) *RecordingStore {
    if d > 0 {
        s.timeout = d
    }
    return s
}

func (s *RecordingStore) Append(ctx context.Context, r model.CheckinRecord) error {
    if r.ID == "" {
        r.ID = uuid.NewString()
    }
    if err := s.Store.Append(ctx, r); err != nil {
        return err
    }
    ev := q.NewCheckinRecordedEvent(r)
    for _, sink := range s.sinks {
        sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
        if err := sink.CheckinRecorded(sctx, ev); err != nil {
            s.log.Warn("check-in notification failed", "record_id", r.ID, "booking_id", r.BookingID, "err", err)
        }
        cancel()
    }
    return nil
}
