package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skygen/internal/docstore"
	"skygen/internal/domain"
	"skygen/internal/quota"
	"skygen/internal/session"
)

// DefaultClearGrace is how long the persisted record outlives a finished
// generation, so a reloading client can still render the completion state.
const DefaultClearGrace = 2 * time.Second

// finalSaveTimeout bounds the last session write after a run finishes. It is
// detached from the run context so normal completion can still persist after
// the run's own cancel fires.
const finalSaveTimeout = 5 * time.Second

// Options wires a Service.
type Options struct {
	Env          EnvironmentAPI
	Assets       AssetAPI
	Store        session.Store
	Docs         docstore.Store
	Quota        quota.Ledger
	Clock        Clock
	Logger       zerolog.Logger
	SessionTTL   time.Duration
	SaveDebounce time.Duration
	ClearGrace   time.Duration
	MaxAttempts  int
	BaseInterval time.Duration
}

// Service owns the generation lifecycle per user: at most one active session,
// cancellation on reset, debounced persistence of every mutation, and resume
// of interrupted polling from the session store.
type Service struct {
	coordinator *Coordinator
	reconciler  *Reconciler
	store       session.Store
	saver       *session.Debouncer
	quota       quota.Ledger
	clock       Clock
	logger      zerolog.Logger
	ttl         time.Duration
	clearGrace  time.Duration

	mu   sync.Mutex
	runs map[string]*run
}

// run is one in-flight (or just finished) generation.
type run struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	latest  *domain.GenerationSession
	outcome *domain.GenerationOutcome
	err     error
}

func (r *run) setLatest(s *domain.GenerationSession) {
	r.mu.Lock()
	r.latest = s
	r.mu.Unlock()
}

func (r *run) finish(outcome *domain.GenerationOutcome, err error) {
	r.mu.Lock()
	r.outcome = outcome
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

func (r *run) state() (*domain.GenerationSession, *domain.GenerationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.outcome, r.err
}

// NewService constructs the orchestrator service.
func NewService(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	grace := opts.ClearGrace
	if grace <= 0 {
		grace = DefaultClearGrace
	}
	submitter := &Submitter{Env: opts.Env, Quota: opts.Quota, Logger: opts.Logger}
	return &Service{
		coordinator: &Coordinator{
			Env:          opts.Env,
			Assets:       opts.Assets,
			Submitter:    submitter,
			Clock:        clock,
			Logger:       opts.Logger,
			MaxAttempts:  opts.MaxAttempts,
			BaseInterval: opts.BaseInterval,
			StorageReady: opts.Docs != nil,
		},
		reconciler: &Reconciler{Docs: opts.Docs, Clock: clock, Logger: opts.Logger},
		store:      opts.Store,
		saver:      session.NewDebouncer(opts.Store, opts.SaveDebounce, opts.Logger),
		quota:      opts.Quota,
		clock:      clock,
		logger:     opts.Logger,
		ttl:        ttl,
		clearGrace: grace,
		runs:       make(map[string]*run),
	}
}

// StartRequest describes one user action kicking off a generation.
type StartRequest struct {
	UserID         string
	Prompt         string
	NegativePrompt string
	StyleID        int
	NumVariations  int
	Quality        string
}

// StartGeneration validates the request and launches the pipeline in the
// background, detached from the caller's context so navigation does not kill
// it. Only Reset (or process exit) cancels a running generation.
func (s *Service) StartGeneration(ctx context.Context, req StartRequest) (string, error) {
	numVariations := req.NumVariations
	if numVariations == 0 {
		numVariations = 1
	}
	now := s.clock.Now()
	sess := &domain.GenerationSession{
		SessionID:      uuid.NewString(),
		UserID:         req.UserID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		StyleID:        req.StyleID,
		NumVariations:  numVariations,
		Quality:        req.Quality,
		StartedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.coordinator.Submitter.Validate(ctx, sess); err != nil {
		return "", err
	}

	s.mu.Lock()
	if existing, ok := s.runs[req.UserID]; ok {
		select {
		case <-existing.done:
			// Finished run: replace it.
		default:
			s.mu.Unlock()
			return "", domain.ErrSessionActive
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{sessionID: sess.SessionID, cancel: cancel, done: make(chan struct{}), latest: sess.Clone()}
	s.runs[req.UserID] = r
	s.mu.Unlock()

	go s.execute(runCtx, r, sess, false)
	return sess.SessionID, nil
}

func (s *Service) execute(ctx context.Context, r *run, sess *domain.GenerationSession, resumed bool) {
	defer r.cancel()
	userID := sess.UserID
	onChange := func(snap *domain.GenerationSession) {
		r.setLatest(snap)
		// Cancelled runs stop persisting: Reset already cleared the record
		// and the unwind must not bring it back.
		if ctx.Err() == nil {
			s.saver.Save(ctx, userID, snap)
		}
	}

	var outcome *domain.GenerationOutcome
	var err error
	if resumed {
		outcome, err = s.coordinator.Resume(ctx, sess, onChange)
	} else {
		outcome, err = s.coordinator.Generate(ctx, sess, onChange)
	}

	if err == nil && outcome != nil {
		docID, warnings := s.reconciler.RecordEnvironment(ctx, sess, outcome.EnvironmentResults)
		if outcome.AssetResult != nil {
			warnings = append(warnings, s.reconciler.RecordAsset(ctx, docID, outcome.AssetResult)...)
		}
		outcome.Warnings = warnings
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("session_id", sess.SessionID).Msg("generation failed")
	} else {
		s.logger.Info().Str("user_id", userID).Str("session_id", sess.SessionID).Msg("generation finished")
	}
	r.finish(outcome, err)

	if ctx.Err() != nil {
		// Reset cancelled the run and cleared the record; drop whatever is
		// still queued instead of flushing it back.
		s.saver.Cancel(userID)
		return
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), finalSaveTimeout)
	if flushErr := s.saver.Flush(flushCtx, userID); flushErr != nil {
		s.logger.Warn().Err(flushErr).Str("user_id", userID).Msg("final session save failed")
	}
	cancelFlush()

	// Grace period before dropping the persisted record, so a client that
	// reloads right at completion still sees the final state.
	if s.clock.Sleep(ctx, s.clearGrace) == nil {
		if clearErr := s.store.Clear(context.Background(), userID); clearErr != nil {
			s.logger.Warn().Err(clearErr).Str("user_id", userID).Msg("session clear failed")
		}
	}
}

// Reset cancels any in-flight generation and deletes the persisted record
// immediately.
func (s *Service) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	r := s.runs[userID]
	delete(s.runs, userID)
	s.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	s.saver.Cancel(userID)
	return s.store.Clear(ctx, userID)
}

// AssetProgress is the push-side progress of the asset branch.
type AssetProgress struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// Snapshot is the read-only view handed to the presentation layer.
type Snapshot struct {
	SessionID           string                    `json:"session_id,omitempty"`
	IsGenerating        bool                      `json:"is_generating"`
	IsGenerating3DAsset bool                      `json:"is_generating_3d_asset"`
	Prompt              string                    `json:"prompt"`
	NegativePrompt      string                    `json:"negative_prompt,omitempty"`
	StyleID             int                       `json:"style_id"`
	NumVariations       int                       `json:"num_variations"`
	CurrentJobID        string                    `json:"current_job_id,omitempty"`
	EnvironmentProgress int                       `json:"environment_progress"`
	AssetProgress       *AssetProgress            `json:"asset_progress"`
	Steps               []Step                    `json:"steps"`
	GeneratedAsset      *domain.GeneratedAsset    `json:"generated_asset,omitempty"`
	Outcome             *domain.GenerationOutcome `json:"outcome,omitempty"`
	Error               string                    `json:"error,omitempty"`
	RemainingQuota      *int                      `json:"remaining_quota,omitempty"`
}

// Snapshot reports the current generation state for a user. When no run is
// in memory it falls back to the session store and, if the persisted session
// was still polling, resumes it.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	s.mu.Lock()
	r := s.runs[userID]
	s.mu.Unlock()

	if r == nil {
		sess, err := s.store.Load(ctx, userID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("session load failed")
		}
		if sess == nil {
			return nil, domain.ErrNoActiveSession
		}
		if sess.IsRunningEnvironment && len(sess.EnvironmentJobs) > 0 {
			r = s.resume(sess)
		} else {
			return s.buildSnapshot(ctx, sess, nil, nil), nil
		}
	}

	sess, outcome, err := r.state()
	return s.buildSnapshot(ctx, sess, outcome, err), nil
}

// resume restarts the polling pipeline for a persisted session. Called with
// no in-memory run present.
func (s *Service) resume(sess *domain.GenerationSession) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[sess.UserID]; ok {
		return existing
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{sessionID: sess.SessionID, cancel: cancel, done: make(chan struct{}), latest: sess.Clone()}
	s.runs[sess.UserID] = r
	s.logger.Info().Str("user_id", sess.UserID).Str("session_id", sess.SessionID).Msg("resuming persisted generation")
	go s.execute(runCtx, r, sess, true)
	return r
}

func (s *Service) buildSnapshot(ctx context.Context, sess *domain.GenerationSession, outcome *domain.GenerationOutcome, runErr error) *Snapshot {
	snap := &Snapshot{
		Steps: DeriveSteps(sess),
	}
	if sess != nil {
		snap.SessionID = sess.SessionID
		snap.IsGenerating = sess.IsRunningEnvironment
		snap.IsGenerating3DAsset = sess.IsRunningAsset
		snap.Prompt = sess.Prompt
		snap.NegativePrompt = sess.NegativePrompt
		snap.StyleID = sess.StyleID
		snap.NumVariations = sess.NumVariations
		snap.EnvironmentProgress = EnvironmentProgress(sess)
		if len(sess.EnvironmentJobs) > 0 {
			snap.CurrentJobID = sess.EnvironmentJobs[0].ExternalID
		}
		if sess.AssetJob != nil {
			snap.AssetProgress = &AssetProgress{
				Stage:    sess.AssetJob.Stage,
				Progress: sess.AssetJob.Progress,
				Message:  sess.AssetJob.Message,
			}
			if sess.AssetJob.Result != nil {
				snap.GeneratedAsset = sess.AssetJob.Result
			}
		}
	}
	snap.Outcome = outcome
	if runErr != nil {
		snap.Error = runErr.Error()
	}
	if s.quota != nil {
		userID := ""
		if sess != nil {
			userID = sess.UserID
		}
		if remaining, unlimited, err := s.quota.Remaining(ctx, userID); err == nil && !unlimited {
			snap.RemainingQuota = &remaining
		}
	}
	return snap
}
