package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/model"
)

// Spool holds records the device could not forward.
// ledger.OfflineStore satisfies it.
type Spool interface {
	SpoolRecord(ctx context.Context, r model.CheckinRecord) error
}

// ForwardingStore is the device-side Store.  Appends go to the remote
// store; when that is unreachable the record is spooled locally and
// forwarded later by the reconciler.  Queries always go to the remote.
type ForwardingStore struct {
	remote Store
	spool  Spool
	log    *slog.Logger
}

func NewForwardingStore(remote Store, spool Spool, log *slog.Logger) *ForwardingStore {
	if remote == nil || spool == nil {
		panic("history: ForwardingStore needs a remote store and a spool")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ForwardingStore{remote: remote, spool: spool, log: log}
}

func (s *ForwardingStore) Append(ctx context.Context, r model.CheckinRecord) error {
	// The ID must be fixed before the first attempt so a later resend is
	// recognisable as the same record.
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.remote.Append(ctx, r)
	if err == nil || !model.IsUnavailable(err) {
		return err
	}
	s.log.Info("history unreachable, spooling record", "id", r.ID, "booking_id", r.BookingID)
	if serr := s.spool.SpoolRecord(ctx, r); serr != nil {
		return fmt.Errorf("spool history record: %w", serr)
	}
	return nil
}

func (s *ForwardingStore) Query(ctx context.Context, f Filter) ([]model.CheckinRecord, error) {
	return s.remote.Query(ctx, f)
}
