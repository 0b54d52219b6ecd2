package history

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/model"
)

// ErrDuplicateRecord is returned when a record ID is appended twice.
var ErrDuplicateRecord = errors.New("history: record already appended")

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.CheckinRecord
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// Append stores r, assigning an ID when it has none.
func (m *MemoryStore) Append(_ context.Context, r model.CheckinRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[r.ID]; dup {
		return ErrDuplicateRecord
	}
	m.ids[r.ID] = struct{}{}
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]model.CheckinRecord, error) {
	m.mu.RLock()
	out := make([]model.CheckinRecord, 0, len(m.records))
	// Walk backwards so equal timestamps come out newest-appended first.
	for i := len(m.records) - 1; i >= 0; i-- {
		if f.Match(m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	m.mu.RUnlock()

	if f.OldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	Sort(out, f.OldestFirst)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
