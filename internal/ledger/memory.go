package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/event-checkin/internal/model"
)

// MemoryBackend is an in-process Backend.  A single mutex makes
// InsertIfAbsent linearizable.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]model.Redemption
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]model.Redemption)}
}

func (m *MemoryBackend) InsertIfAbsent(_ context.Context, r model.Redemption) (*model.Redemption, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.items[r.BookingID]; ok {
		return &prior, false, nil
	}
	m.items[r.BookingID] = r
	return nil, true, nil
}

func (m *MemoryBackend) Get(_ context.Context, bookingID string) (*model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Len returns the number of stored redemptions.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// MemoryReviewQueue is an in-process ReviewQueue.
type MemoryReviewQueue struct {
	mu    sync.Mutex
	items []model.ReviewItem
}

func NewMemoryReviewQueue() *MemoryReviewQueue { return &MemoryReviewQueue{} }

func (q *MemoryReviewQueue) Submit(_ context.Context, item model.ReviewItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

// List returns the newest items first, optionally filtered by event.  A
// limit of zero or less returns everything.
func (q *MemoryReviewQueue) List(_ context.Context, eventID string, limit int) ([]model.ReviewItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.ReviewItem, 0, len(q.items))
	for _, it := range q.items {
		if eventID == "" || it.EventID == eventID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
