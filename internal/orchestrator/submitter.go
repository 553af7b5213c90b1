package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"skygen/internal/domain"
	"skygen/internal/providers/environment"
	"skygen/internal/quota"
)

const maxVariations = 10

// EnvironmentAPI is the slice of the environment client the orchestrator
// depends on.
type EnvironmentAPI interface {
	Submit(ctx context.Context, req environment.SubmitRequest) (string, error)
	Status(ctx context.Context, externalID string) (*environment.JobState, error)
}

// Submitter validates a generation request and creates the remote
// environment jobs, one per requested variation.
type Submitter struct {
	Env    EnvironmentAPI
	Quota  quota.Ledger
	Logger zerolog.Logger
}

// Validate rejects the session before any remote call: the prompt must be
// non-empty, the style must resolve to a positive identifier, and the
// variation count must fit the remaining quota.
func (s *Submitter) Validate(ctx context.Context, sess *domain.GenerationSession) error {
	if strings.TrimSpace(sess.Prompt) == "" {
		return &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if sess.StyleID <= 0 {
		return &domain.ValidationError{Field: "style_id", Reason: "must resolve to a positive style identifier"}
	}
	if sess.NumVariations < 1 || sess.NumVariations > maxVariations {
		return &domain.ValidationError{Field: "num_variations", Reason: fmt.Sprintf("must be between 1 and %d", maxVariations)}
	}
	remaining, unlimited, err := s.Quota.Remaining(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !unlimited && sess.NumVariations > remaining {
		return &domain.QuotaExceededError{Requested: sess.NumVariations, Remaining: remaining}
	}
	return nil
}

// SubmitEnvironmentJobs creates one remote job per variation, strictly in
// request order, debiting quota once per successfully created job. The first
// failure aborts the batch; jobs created before it stay on the remote side
// untouched (the API has no cancel endpoint) and keep their quota debit.
// onCreated is invoked after each successful submission.
func (s *Submitter) SubmitEnvironmentJobs(ctx context.Context, sess *domain.GenerationSession, onCreated func(externalID string)) error {
	for i := 0; i < sess.NumVariations; i++ {
		externalID, err := s.Env.Submit(ctx, environment.SubmitRequest{
			Prompt:         sess.Prompt,
			NegativePrompt: sess.NegativePrompt,
			StyleID:        sess.StyleID,
		})
		if err != nil {
			return fmt.Errorf("submit variation %d: %w", i+1, err)
		}
		if err := s.Quota.Increment(ctx, sess.UserID); err != nil {
			s.Logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("quota increment failed")
		}
		s.Logger.Info().Str("job_id", externalID).Int("variation", i+1).Msg("environment job submitted")
		if onCreated != nil {
			onCreated(externalID)
		}
	}
	return nil
}
