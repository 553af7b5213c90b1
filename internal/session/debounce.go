package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"skygen/internal/domain"
)

// DefaultDebounce bounds write volume while a generation is actively
// mutating its session.
const DefaultDebounce = 500 * time.Millisecond

const writeTimeout = 5 * time.Second

// pendingSave is one deferred write plus the run context it came from. The
// context lets the flush path drop snapshots whose run was cancelled between
// scheduling and firing, so a reset never races a straggler write.
type pendingSave struct {
	ctx   context.Context
	state *domain.GenerationSession
}

func (p pendingSave) cancelled() bool {
	return p.ctx != nil && p.ctx.Err() != nil
}

// Debouncer coalesces rapid Save calls per user into one deferred write.
// Poll updates can arrive every couple of seconds across several jobs; only
// the last snapshot within the window is persisted.
type Debouncer struct {
	store  Store
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]pendingSave
}

// NewDebouncer wraps a store with save coalescing.
func NewDebouncer(store Store, delay time.Duration, logger zerolog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		store:   store,
		delay:   delay,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]pendingSave),
	}
}

// Save schedules a deferred write of the snapshot, replacing any snapshot
// already waiting for the same user. ctx is the owning run's context; once it
// is cancelled the snapshot will not be written.
func (d *Debouncer) Save(ctx context.Context, userID string, s *domain.GenerationSession) {
	if ctx != nil && ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[userID] = pendingSave{ctx: ctx, state: s.Clone()}
	if _, ok := d.timers[userID]; ok {
		return
	}
	d.timers[userID] = time.AfterFunc(d.delay, func() { d.fire(userID) })
}

func (d *Debouncer) fire(userID string) {
	d.mu.Lock()
	p := d.pending[userID]
	delete(d.pending, userID)
	delete(d.timers, userID)
	d.mu.Unlock()
	if p.state == nil || p.cancelled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.store.Save(ctx, userID, p.state); err != nil {
		d.logger.Warn().Err(err).Str("user_id", userID).Msg("session: debounced save failed")
	}
}

// Flush writes any pending snapshot for the user immediately, unless the run
// that scheduled it has been cancelled.
func (d *Debouncer) Flush(ctx context.Context, userID string) error {
	d.mu.Lock()
	p := d.pending[userID]
	delete(d.pending, userID)
	if t, ok := d.timers[userID]; ok {
		t.Stop()
		delete(d.timers, userID)
	}
	d.mu.Unlock()
	if p.state == nil || p.cancelled() {
		return nil
	}
	return d.store.Save(ctx, userID, p.state)
}

// Cancel drops any pending write for the user without persisting it.
func (d *Debouncer) Cancel(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, userID)
	if t, ok := d.timers[userID]; ok {
		t.Stop()
		delete(d.timers, userID)
	}
}

// Close stops all timers, dropping pending writes.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
		delete(d.pending, id)
	}
}
