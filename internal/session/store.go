package session

import (
	"context"
	"time"

	"skygen/internal/domain"
)

// DefaultTTL is the age after which a persisted session is treated as stale.
const DefaultTTL = 2 * time.Hour

// Record is the persisted envelope for a session snapshot.
type Record struct {
	State     *domain.GenerationSession `json:"state"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Store persists one resumable generation session per user. Load returns
// (nil, nil) when no usable record exists. Persistence failures never fail a
// generation; callers log and continue.
type Store interface {
	Load(ctx context.Context, userID string) (*domain.GenerationSession, error)
	Save(ctx context.Context, userID string, s *domain.GenerationSession) error
	Clear(ctx context.Context, userID string) error
}

// stale reports whether a persisted record should be discarded on load:
// either the TTL elapsed or the state carries no resumable indicators.
func stale(rec Record, now time.Time, ttl time.Duration) bool {
	if now.Sub(rec.Timestamp) > ttl {
		return true
	}
	return !rec.State.Resumable()
}
