package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skygen/internal/domain"
)

// PGStore persists session records in PostgreSQL, one row per user.
type PGStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPGStore creates a store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool, ttl time.Duration) *PGStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PGStore{pool: pool, ttl: ttl}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS generation_sessions (
    user_id  TEXT PRIMARY KEY,
    record   JSONB NOT NULL,
    saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	if err != nil {
		return fmt.Errorf("session: ensure schema: %w", err)
	}
	return nil
}

// Load reads and validates the user's record, deleting it when stale.
func (p *PGStore) Load(ctx context.Context, userID string) (*domain.GenerationSession, error) {
	row := p.pool.QueryRow(ctx, `
SELECT record FROM generation_sessions WHERE user_id = $1;
`, userID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "session: load record", Err: err}
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Unreadable records are dropped rather than blocking new sessions.
		_ = p.delete(ctx, userID)
		return nil, nil
	}
	if stale(rec, time.Now(), p.ttl) {
		_ = p.delete(ctx, userID)
		return nil, nil
	}
	return rec.State, nil
}

// Save overwrites the user's record with a fresh timestamp.
func (p *PGStore) Save(ctx context.Context, userID string, s *domain.GenerationSession) error {
	raw, err := json.Marshal(Record{State: s, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO generation_sessions (user_id, record, saved_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, saved_at = NOW();
`, userID, raw)
	if err != nil {
		return &domain.PersistenceError{Op: "session: save record", Err: err}
	}
	return nil
}

// Clear deletes the user's record.
func (p *PGStore) Clear(ctx context.Context, userID string) error {
	return p.delete(ctx, userID)
}

func (p *PGStore) delete(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `
DELETE FROM generation_sessions WHERE user_id = $1;
`, userID)
	if err != nil {
		return &domain.PersistenceError{Op: "session: delete record", Err: err}
	}
	return nil
}

var _ Store = (*PGStore)(nil)
