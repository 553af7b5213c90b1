package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger stores usage counters in PostgreSQL, one row per user. A NULL
// quota_limit means unbounded.
type PGLedger struct {
	pool         *pgxpool.Pool
	defaultLimit int
}

// NewPGLedger creates a ledger backed by the given pool. A zero or negative
// defaultLimit treats users without an explicit row as unbounded.
func NewPGLedger(pool *pgxpool.Pool, defaultLimit int) *PGLedger {
	return &PGLedger{pool: pool, defaultLimit: defaultLimit}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (p *PGLedger) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS usage_counters (
    user_id     TEXT PRIMARY KEY,
    used        INTEGER NOT NULL DEFAULT 0,
    quota_limit INTEGER
);
`)
	if err != nil {
		return fmt.Errorf("quota: ensure schema: %w", err)
	}
	return nil
}

// Remaining computes limit minus used for the user.
func (p *PGLedger) Remaining(ctx context.Context, userID string) (int, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT used, quota_limit FROM usage_counters WHERE user_id = $1;
`, userID)
	var used int
	var limit *int
	if err := row.Scan(&used, &limit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if p.defaultLimit <= 0 {
				return 0, true, nil
			}
			return p.defaultLimit, false, nil
		}
		return 0, false, fmt.Errorf("quota: load counter: %w", err)
	}
	effective := p.defaultLimit
	if limit != nil {
		effective = *limit
	}
	if effective <= 0 {
		return 0, true, nil
	}
	remaining := effective - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}

// Increment debits one job from the user's allowance.
func (p *PGLedger) Increment(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO usage_counters (user_id, used) VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET used = usage_counters.used + 1;
`, userID)
	if err != nil {
		return fmt.Errorf("quota: increment counter: %w", err)
	}
	return nil
}

var _ Ledger = (*PGLedger)(nil)
