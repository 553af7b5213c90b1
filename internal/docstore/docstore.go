// Package docstore exposes the durable document store the reconciler writes
// generation records into. The store is an external collaborator: this
// service upserts and reads documents but does not own their lifecycle.
package docstore

import (
	"context"
)

// Fields is a flat document body. Merge semantics are shallow: top-level
// keys of the incoming fields replace existing ones.
type Fields map[string]any

// Store is a minimal document store contract.
type Store interface {
	// Upsert writes fields under collection/id. When merge is true, existing
	// top-level fields not present in the update are preserved.
	Upsert(ctx context.Context, collection, id string, fields Fields, merge bool) error
	// Get reads a document, returning domain.ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Fields, error)
}
