package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/iliyamo/event-checkin/internal/model"
)

// EntryStatus tracks a redemption held in the device's offline store.
type EntryStatus string

const (
	// StatusPending is a tentative redemption waiting for reconciliation.
	StatusPending EntryStatus = "PENDING"
	// StatusConfirmed is a redemption the authority accepted while the
	// device was online.  It is kept so that a repeat scan on the same
	// device is caught even during a later outage.
	StatusConfirmed EntryStatus = "CONFIRMED"
	// StatusSettled is a tentative redemption later accepted on replay.
	StatusSettled EntryStatus = "SETTLED"
	// StatusContested is a tentative redemption the authority rejected
	// as a duplicate on replay.
	StatusContested EntryStatus = "CONTESTED"
	// StatusFailed is a tentative redemption rejected for another reason.
	StatusFailed EntryStatus = "FAILED"
)

// Blocks reports whether an entry with this status makes a repeat
// presentation on the same device a duplicate.
func (s EntryStatus) Blocks() bool {
	return s != StatusFailed
}

// Entry is one redemption held on the device.  Record, when present, is
// the history record to append once the entry settles.
type Entry struct {
	Seq        int64
	Redemption model.Redemption
	Record     *model.CheckinRecord
	Status     EntryStatus
	Detail     string
	UpdatedAt  time.Time
}

// SpooledRecord is a history record waiting to be forwarded.
type SpooledRecord struct {
	Seq    int64
	Record model.CheckinRecord
}

// SpooledReview is a review item waiting to be forwarded.
type SpooledReview struct {
	Seq  int64
	Item model.ReviewItem
}

// ErrEntryExists is returned by OfflineStore.Add when the booking
// already has an entry.
var ErrEntryExists = errors.New("ledger: offline entry exists")

// OfflineStore is the durable device-local queue behind DeviceLedger,
// Reconciler and the forwarding history store.
type OfflineStore interface {
	// Add stores a new entry for e.Redemption.BookingID and assigns
	// its sequence number.  It fails with ErrEntryExists when the
	// booking already has one.
	Add(ctx context.Context, e Entry) (Entry, error)
	// Lookup returns the entry for bookingID, or nil.
	Lookup(ctx context.Context, bookingID string) (*Entry, error)
	// Pending returns pending entries in sequence order.
	Pending(ctx context.Context) ([]Entry, error)
	// Settle moves the entry with seq to status.
	Settle(ctx context.Context, seq int64, status EntryStatus, detail string) error

	SpoolRecord(ctx context.Context, r model.CheckinRecord) error
	SpooledRecords(ctx context.Context, limit int) ([]SpooledRecord, error)
	DeleteRecord(ctx context.Context, seq int64) error

	SpoolReview(ctx context.Context, item model.ReviewItem) error
	SpooledReviews(ctx context.Context, limit int) ([]SpooledReview, error)
	DeleteReview(ctx context.Context, seq int64) error

	// Backlog counts pending entries plus spooled records and reviews.
	Backlog(ctx context.Context) (Backlog, error)
	Close() error
}

// Backlog summarises work the reconciler still has to do.
type Backlog struct {
	Pending int `json:"pending"`
	Records int `json:"records"`
	Reviews int `json:"reviews"`
}

// Empty reports whether there is nothing left to forward.
func (b Backlog) Empty() bool { return b.Pending == 0 && b.Records == 0 && b.Reviews == 0 }

var (
	spoolEnc cbor.EncMode
	spoolDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	spoolEnc, err = opts.EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	spoolDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalBlob(v any) ([]byte, error) {
	b, err := spoolEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode spool blob: %w", err)
	}
	return b, nil
}

func unmarshalBlob(b []byte, v any) error {
	if err := spoolDec.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode spool blob: %w", err)
	}
	return nil
}

// MemoryOfflineStore is a non-durable OfflineStore for tests and
// ephemeral devices.
type MemoryOfflineStore struct {
	mu      sync.Mutex
	seq     int64
	entries []Entry
	records []SpooledRecord
	reviews []SpooledReview
	now     func() time.Time
}

// NewMemoryOfflineStore returns an empty store.
func NewMemoryOfflineStore() *MemoryOfflineStore {
	return &MemoryOfflineStore{now: time.Now}
}

func (m *MemoryOfflineStore) next() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryOfflineStore) Add(_ context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.entries {
		if have.Redemption.BookingID == e.Redemption.BookingID {
			return Entry{}, ErrEntryExists
		}
	}
	e.Seq = m.next()
	e.UpdatedAt = m.now().UTC()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *MemoryOfflineStore) Lookup(_ context.Context, bookingID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Redemption.BookingID == bookingID {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryOfflineStore) Pending(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryOfflineStore) Settle(_ context.Context, seq int64, status EntryStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Seq == seq {
			m.entries[i].Status = status
			m.entries[i].Detail = detail
			m.entries[i].UpdatedAt = m.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("ledger: no offline entry %d", seq)
}

func (m *MemoryOfflineStore) SpoolRecord(_ context.Context, r model.CheckinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, SpooledRecord{Seq: m.next(), Record: r})
	return nil
}

func (m *MemoryOfflineStore) SpooledRecords(_ context.Context, limit int) ([]SpooledRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.records, limit), nil
}

func (m *MemoryOfflineStore) DeleteRecord(_ context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.Seq == seq {
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryOfflineStore) SpoolReview(_ context.Context, item model.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, SpooledReview{Seq: m.next(), Item: item})
	return nil
}

func (m *MemoryOfflineStore) SpooledReviews(_ context.Context, limit int) ([]SpooledReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.reviews, limit), nil
}

func (m *MemoryOfflineStore) DeleteReview(_ context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reviews {
		if r.Seq == seq {
			m.reviews = append(m.reviews[:i], m.reviews[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryOfflineStore) Backlog(_ context.Context) (Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := Backlog{Records: len(m.records), Reviews: len(m.reviews)}
	for _, e := range m.entries {
		if e.Status == StatusPending {
			b.Pending++
		}
	}
	return b, nil
}

func (m *MemoryOfflineStore) Close() error { return nil }

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return append([]T(nil), s...)
}
