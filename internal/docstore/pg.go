package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skygen/internal/domain"
)

// PGStore stores documents in a generic jsonb table keyed by collection and id.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a document store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    fields     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);
`)
	if err != nil {
		return fmt.Errorf("docstore: ensure schema: %w", err)
	}
	return nil
}

// Upsert writes a document. With merge, jsonb concatenation preserves
// existing top-level fields absent from the update.
func (p *PGStore) Upsert(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: encode fields: %w", err)
	}
	query := `
INSERT INTO documents (collection, id, fields, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW();
`
	if merge {
		query = `
INSERT INTO documents (collection, id, fields, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (collection, id) DO UPDATE SET fields = documents.fields || EXCLUDED.fields, updated_at = NOW();
`
	}
	if _, err := p.pool.Exec(ctx, query, collection, id, raw); err != nil {
		return &domain.PersistenceError{Op: fmt.Sprintf("docstore: upsert %s/%s", collection, id), Err: err}
	}
	return nil
}

// Get reads a document by collection and id.
func (p *PGStore) Get(ctx context.Context, collection, id string) (Fields, error) {
	row := p.pool.QueryRow(ctx, `
SELECT fields FROM documents WHERE collection = $1 AND id = $2;
`, collection, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.PersistenceError{Op: fmt.Sprintf("docstore: get %s/%s", collection, id), Err: err}
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return fields, nil
}

var _ Store = (*PGStore)(nil)
