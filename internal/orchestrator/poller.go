package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"skygen/internal/domain"
	"skygen/internal/providers/environment"
)

const (
	// DefaultMaxAttempts is the per-job poll budget.
	DefaultMaxAttempts = 180
	// DefaultBaseInterval is the poll interval while a job is pending.
	DefaultBaseInterval = 2 * time.Second

	processingIntervalCap = 5 * time.Second
	maxPollInterval       = 10 * time.Second
)

// StatusFunc fetches the remote state of one environment job.
type StatusFunc func(ctx context.Context, externalID string) (*environment.JobState, error)

// PollUpdate is pushed to the owner after every poll so session state and UI
// progress stay current.
type PollUpdate struct {
	Status       domain.EnvironmentStatus
	Attempts     int
	Progress     int
	NextInterval time.Duration
	PolledAt     time.Time
	ResultURL    string
}

// Poller drives a single environment job to a terminal state with
// variable-interval polling and bounded backoff.
type Poller struct {
	Status       StatusFunc
	Clock        Clock
	Logger       zerolog.Logger
	MaxAttempts  int
	BaseInterval time.Duration
	OnUpdate     func(PollUpdate)
}

// Poll runs the polling loop for one job and returns its result URL.
// Completed reports without a file URL are treated as non-terminal and keep
// polling. Failed, aborted and remote "error" statuses raise JobFailedError
// without retry, as does a not-found/expired response. Transient poll errors
// back off and retry until the attempt budget is exhausted, at which point a
// TimeoutError carrying the last observed status is returned.
func (p *Poller) Poll(ctx context.Context, externalID string) (string, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := p.BaseInterval
	if base <= 0 {
		base = DefaultBaseInterval
	}

	interval := base
	last := domain.EnvironmentStatusPending
	attempts := 0

	for attempts < maxAttempts {
		if err := p.Clock.Sleep(ctx, interval); err != nil {
			return "", err
		}
		attempts++

		state, err := p.Status(ctx, externalID)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, context.Canceled) {
				return "", err
			}
			// Transient failure: double the interval and keep going.
			interval = capInterval(interval * 2)
			p.Logger.Warn().Err(err).Str("job_id", externalID).Int("attempts", attempts).Msg("poll failed, backing off")
			p.notify(last, attempts, interval, "")
			continue
		}

		status := state.Status
		switch status {
		case domain.EnvironmentStatusCompleted:
			if state.FileURL != "" {
				p.notify(status, attempts, 0, state.FileURL)
				return state.FileURL, nil
			}
			// Completed without a result URL: the remote is still assembling
			// the file. Keep polling and do not regress the visible status.
			status = last
			interval = capInterval(time.Duration(float64(interval) * 1.1))
		case domain.EnvironmentStatusFailed, domain.EnvironmentStatusAborted:
			return "", &domain.JobFailedError{JobID: externalID, Status: status, Message: state.ErrorMessage}
		case domain.EnvironmentStatusPending:
			interval = base
		case domain.EnvironmentStatusDispatched, domain.EnvironmentStatusProcessing:
			next := base * 2
			if next > processingIntervalCap {
				next = processingIntervalCap
			}
			interval = next
		default:
			interval = capInterval(time.Duration(float64(interval) * 1.1))
		}

		last = status
		p.notify(status, attempts, interval, "")
	}

	return "", &domain.TimeoutError{JobID: externalID, Attempts: attempts, LastStatus: last}
}

func (p *Poller) notify(status domain.EnvironmentStatus, attempts int, next time.Duration, resultURL string) {
	if p.OnUpdate == nil {
		return
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	p.OnUpdate(PollUpdate{
		Status:       status,
		Attempts:     attempts,
		Progress:     progressEstimate(status, attempts, maxAttempts),
		NextInterval: next,
		PolledAt:     p.Clock.Now(),
		ResultURL:    resultURL,
	})
}

// progressEstimate maps the poll phase to a coarse completion percentage for
// the aggregator: pending crawls within 10-30, processing ramps to 90,
// completion snaps to 100.
func progressEstimate(status domain.EnvironmentStatus, attempts, maxAttempts int) int {
	ratio := float64(attempts) / float64(maxAttempts)
	switch status {
	case domain.EnvironmentStatusCompleted:
		return 100
	case domain.EnvironmentStatusPending:
		inc := ratio * 20
		if inc > 20 {
			inc = 20
		}
		return 10 + int(inc)
	case domain.EnvironmentStatusDispatched, domain.EnvironmentStatusProcessing:
		inc := ratio * 80
		if inc > 80 {
			inc = 80
		}
		return 10 + int(inc)
	default:
		return 0
	}
}

func capInterval(d time.Duration) time.Duration {
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}
