package docstore

import (
	"context"
	"sync"

	"skygen/internal/domain"
)

// MemoryStore is an in-process document store for tests and development.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Fields
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Fields)}
}

func key(collection, id string) string {
	return collection + "/" + id
}

// Upsert writes a document, merging top-level fields when requested.
func (m *MemoryStore) Upsert(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(collection, id)
	if merge {
		if existing, ok := m.docs[k]; ok {
			merged := cloneFields(existing)
			for name, value := range fields {
				merged[name] = value
			}
			m.docs[k] = merged
			return nil
		}
	}
	m.docs[k] = cloneFields(fields)
	return nil
}

// Get reads a document by collection and id.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.docs[key(collection, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneFields(fields), nil
}

func cloneFields(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
