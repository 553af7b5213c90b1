package session

import (
	"context"
	"sync"
	"time"

	"skygen/internal/domain"
)

// MemoryStore keeps persisted sessions in process memory. It backs tests and
// single-node development runs.
type MemoryStore struct {
	ttl time.Duration

	// Now is overridable so tests can age records without sleeping.
	Now func() time.Time

	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store. A non-positive ttl falls
// back to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		Now:     time.Now,
		records: make(map[string]Record),
	}
}

// Load returns the user's session, discarding it when stale.
func (m *MemoryStore) Load(ctx context.Context, userID string) (*domain.GenerationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	if stale(rec, m.Now(), m.ttl) {
		delete(m.records, userID)
		return nil, nil
	}
	return rec.State.Clone(), nil
}

// Save overwrites the user's record with a fresh timestamp.
func (m *MemoryStore) Save(ctx context.Context, userID string, s *domain.GenerationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = Record{State: s.Clone(), Timestamp: m.Now()}
	return nil
}

// Clear deletes the user's record.
func (m *MemoryStore) Clear(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
