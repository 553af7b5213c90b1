package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"skygen/internal/domain"
	"skygen/internal/providers/asset"
)

// AssetAPI is the slice of the asset client the orchestrator depends on.
type AssetAPI interface {
	Configured() bool
	Generate(ctx context.Context, req asset.GenerateRequest, onProgress asset.ProgressFunc) ([]domain.GeneratedAsset, error)
}

// Coordinator fans out the environment pollers and the asset call
// concurrently and fans their results back in. The two branches are isolated:
// an asset failure never fails the operation, while an environment failure
// always does, even when the asset branch succeeded.
type Coordinator struct {
	Env          EnvironmentAPI
	Assets       AssetAPI
	Submitter    *Submitter
	Clock        Clock
	Logger       zerolog.Logger
	MaxAttempts  int
	BaseInterval time.Duration
	// StorageReady gates the asset capability pre-check alongside client
	// configuration and user identity.
	StorageReady bool
}

// runState serializes session mutations across the poller goroutines and the
// asset progress callback, publishing a snapshot after every change.
type runState struct {
	mu       sync.Mutex
	sess     *domain.GenerationSession
	onChange func(*domain.GenerationSession)
}

func (r *runState) apply(fn func(*domain.GenerationSession)) {
	r.mu.Lock()
	fn(r.sess)
	snap := r.sess.Clone()
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(snap)
	}
}

type assetOutcome struct {
	result  *domain.GeneratedAsset
	err     error
	skipped bool
}

// Generate runs the full pipeline for a fresh session: sequential environment
// submissions, then concurrent polling plus the asset call, then a settle-all
// join. onChange receives a cloned snapshot after every session mutation.
func (c *Coordinator) Generate(ctx context.Context, sess *domain.GenerationSession, onChange func(*domain.GenerationSession)) (*domain.GenerationOutcome, error) {
	run := &runState{sess: sess, onChange: onChange}
	eligible := c.assetEligible(sess.UserID)

	run.apply(func(s *domain.GenerationSession) {
		s.IsRunningEnvironment = true
		s.IsRunningAsset = eligible
		if eligible {
			s.AssetJob = &domain.AssetJob{Status: domain.AssetStatusRunning, Stage: "queued"}
		}
	})

	err := c.Submitter.SubmitEnvironmentJobs(ctx, sess, func(externalID string) {
		run.apply(func(s *domain.GenerationSession) {
			s.EnvironmentJobs = append(s.EnvironmentJobs, domain.EnvironmentJob{
				ExternalID: externalID,
				Status:     domain.EnvironmentStatusPending,
			})
		})
	})
	if err != nil {
		// Fail fast: jobs created before the failure remain orphaned on the
		// remote side and keep their quota debit.
		run.apply(func(s *domain.GenerationSession) {
			s.IsRunningEnvironment = false
			s.IsRunningAsset = false
		})
		return nil, err
	}

	return c.await(ctx, run, eligible)
}

// Resume re-attaches the pipeline to a persisted session after a restart.
// Environment polling picks up where it left off; a previously running asset
// stream cannot be re-attached and is surfaced as a non-fatal asset failure.
func (c *Coordinator) Resume(ctx context.Context, sess *domain.GenerationSession, onChange func(*domain.GenerationSession)) (*domain.GenerationOutcome, error) {
	run := &runState{sess: sess, onChange: onChange}

	run.apply(func(s *domain.GenerationSession) {
		s.IsRunningEnvironment = true
		if s.IsRunningAsset {
			s.IsRunningAsset = false
			if s.AssetJob != nil {
				s.AssetJob.Status = domain.AssetStatusFailed
				s.AssetJob.ErrorMessage = "asset generation was interrupted and could not be resumed"
			}
		}
	})

	return c.await(ctx, run, false)
}

func (c *Coordinator) await(ctx context.Context, run *runState, assetEligible bool) (*domain.GenerationOutcome, error) {
	g, gctx := errgroup.WithContext(ctx)

	run.mu.Lock()
	ids := make([]string, len(run.sess.EnvironmentJobs))
	terminal := make([]bool, len(run.sess.EnvironmentJobs))
	for i, job := range run.sess.EnvironmentJobs {
		ids[i] = job.ExternalID
		terminal[i] = job.Status.Terminal()
	}
	run.mu.Unlock()

	for i := range ids {
		if terminal[i] {
			continue
		}
		idx, id := i, ids[i]
		g.Go(func() error {
			return c.pollJob(gctx, run, idx, id)
		})
	}

	assetCh := make(chan assetOutcome, 1)
	if assetEligible {
		go func() {
			assetCh <- c.runAsset(ctx, run)
		}()
	} else {
		assetCh <- assetOutcome{skipped: true}
	}

	// Settle-all join: both branches finish before any result is reported,
	// whichever completes first.
	envErr := g.Wait()
	assetRes := <-assetCh

	if envErr != nil {
		run.apply(func(s *domain.GenerationSession) {
			s.IsRunningEnvironment = false
			s.IsRunningAsset = false
		})
		// Asset work, successful or not, is discarded for result purposes.
		return nil, envErr
	}

	outcome := &domain.GenerationOutcome{}
	run.apply(func(s *domain.GenerationSession) {
		s.IsRunningEnvironment = false
		outcome.SessionID = s.SessionID
		for _, job := range s.EnvironmentJobs {
			outcome.EnvironmentResults = append(outcome.EnvironmentResults, domain.EnvironmentResult{
				JobID: job.ExternalID,
				URL:   job.ResultURL,
			})
		}
		if s.AssetJob != nil && s.AssetJob.ErrorMessage != "" {
			outcome.AssetError = s.AssetJob.ErrorMessage
		}
	})
	if assetRes.err != nil {
		outcome.AssetError = assetRes.err.Error()
	} else if assetRes.result != nil {
		outcome.AssetResult = assetRes.result
	}
	return outcome, nil
}

func (c *Coordinator) pollJob(ctx context.Context, run *runState, idx int, externalID string) error {
	poller := &Poller{
		Status:       c.Env.Status,
		Clock:        c.Clock,
		Logger:       c.Logger,
		MaxAttempts:  c.MaxAttempts,
		BaseInterval: c.BaseInterval,
		OnUpdate: func(u PollUpdate) {
			run.apply(func(s *domain.GenerationSession) {
				job := &s.EnvironmentJobs[idx]
				if u.Status != "" {
					job.Status = u.Status
				}
				job.Attempts = u.Attempts
				job.NextPollInterval = u.NextInterval
				job.LastPolledAt = u.PolledAt
				if u.Progress > job.Progress {
					job.Progress = u.Progress
				}
			})
		},
	}

	url, err := poller.Poll(ctx, externalID)
	if err != nil {
		run.apply(func(s *domain.GenerationSession) {
			markJobError(&s.EnvironmentJobs[idx], err)
		})
		return err
	}
	run.apply(func(s *domain.GenerationSession) {
		job := &s.EnvironmentJobs[idx]
		job.Status = domain.EnvironmentStatusCompleted
		job.ResultURL = url
		job.Progress = 100
	})
	return nil
}

func (c *Coordinator) runAsset(ctx context.Context, run *runState) assetOutcome {
	var prompt, userID, quality, relatedID string
	run.mu.Lock()
	prompt = run.sess.Prompt
	userID = run.sess.UserID
	quality = run.sess.Quality
	if len(run.sess.EnvironmentJobs) > 0 {
		relatedID = run.sess.EnvironmentJobs[0].ExternalID
	}
	run.mu.Unlock()

	assets, err := c.Assets.Generate(ctx, asset.GenerateRequest{
		Prompt:    prompt,
		UserID:    userID,
		RelatedID: relatedID,
		Quality:   quality,
		MaxAssets: 1,
	}, func(stage string, progress int, message string) {
		run.apply(func(s *domain.GenerationSession) {
			if s.AssetJob == nil {
				return
			}
			s.AssetJob.Stage = stage
			s.AssetJob.Message = message
			if progress > s.AssetJob.Progress {
				s.AssetJob.Progress = progress
			}
		})
	})
	if err != nil {
		c.Logger.Warn().Err(err).Msg("asset branch failed")
		run.apply(func(s *domain.GenerationSession) {
			s.IsRunningAsset = false
			if s.AssetJob != nil {
				s.AssetJob.Status = domain.AssetStatusFailed
				s.AssetJob.ErrorMessage = err.Error()
			}
		})
		return assetOutcome{err: err}
	}

	result := assets[0].Clone()
	run.apply(func(s *domain.GenerationSession) {
		s.IsRunningAsset = false
		if s.AssetJob != nil {
			s.AssetJob.Status = domain.AssetStatusCompleted
			s.AssetJob.Progress = 100
			s.AssetJob.ExternalID = result.ID
			s.AssetJob.Result = result
		}
	})
	return assetOutcome{result: result}
}

// assetEligible is the capability pre-check: the asset branch is skipped
// silently unless the service is configured, durable storage is available
// and the user is identified.
func (c *Coordinator) assetEligible(userID string) bool {
	return c.Assets != nil && c.Assets.Configured() && c.StorageReady && userID != ""
}

func markJobError(job *domain.EnvironmentJob, err error) {
	var failed *domain.JobFailedError
	var timedOut *domain.TimeoutError
	switch {
	case errors.As(err, &failed):
		job.Status = domain.EnvironmentStatusFailed
		job.ErrorMessage = failed.Message
	case errors.As(err, &timedOut):
		job.Status = domain.EnvironmentStatusTimeout
		job.ErrorMessage = err.Error()
	case errors.Is(err, context.Canceled):
		job.Status = domain.EnvironmentStatusAborted
	default:
		job.Status = domain.EnvironmentStatusFailed
		job.ErrorMessage = err.Error()
	}
}
