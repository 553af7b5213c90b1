// Package quota tracks per-user generation allowances. Usage is debited once
// per successfully created environment job, never per request.
package quota

import (
	"context"
	"sync"
)

// Ledger exposes the remaining allowance and the usage counter.
type Ledger interface {
	// Remaining returns how many jobs the user may still create. The second
	// return value reports an unbounded allowance, in which case the count
	// is meaningless.
	Remaining(ctx context.Context, userID string) (int, bool, error)
	// Increment debits one job from the user's allowance.
	Increment(ctx context.Context, userID string) error
}

// MemoryLedger is an in-process ledger for tests and development. A zero or
// negative default limit means unbounded.
type MemoryLedger struct {
	defaultLimit int

	mu     sync.Mutex
	limits map[string]int
	used   map[string]int
}

// NewMemoryLedger creates a ledger applying defaultLimit to unknown users.
func NewMemoryLedger(defaultLimit int) *MemoryLedger {
	return &MemoryLedger{
		defaultLimit: defaultLimit,
		limits:       make(map[string]int),
		used:         make(map[string]int),
	}
}

// SetLimit overrides the limit for one user.
func (m *MemoryLedger) SetLimit(userID string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[userID] = limit
}

// Used returns the usage counter for one user.
func (m *MemoryLedger) Used(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[userID]
}

// Remaining computes limit minus used.
func (m *MemoryLedger) Remaining(ctx context.Context, userID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, ok := m.limits[userID]
	if !ok {
		limit = m.defaultLimit
	}
	if limit <= 0 {
		return 0, true, nil
	}
	remaining := limit - m.used[userID]
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}

// Increment debits one job.
func (m *MemoryLedger) Increment(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[userID]++
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
