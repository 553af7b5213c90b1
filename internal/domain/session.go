package domain

import (
	"strings"
	"time"
)

// EnvironmentStatus enumerates the lifecycle of a remote skybox job.
type EnvironmentStatus string

const (
	EnvironmentStatusPending    EnvironmentStatus = "pending"
	EnvironmentStatusDispatched EnvironmentStatus = "dispatched"
	EnvironmentStatusProcessing EnvironmentStatus = "processing"
	EnvironmentStatusCompleted  EnvironmentStatus = "completed"
	EnvironmentStatusFailed     EnvironmentStatus = "failed"
	EnvironmentStatusAborted    EnvironmentStatus = "aborted"
	EnvironmentStatusTimeout    EnvironmentStatus = "timeout"
)

// Terminal reports whether the status stops further polling.
func (s EnvironmentStatus) Terminal() bool {
	switch s {
	case EnvironmentStatusCompleted, EnvironmentStatusFailed, EnvironmentStatusAborted, EnvironmentStatusTimeout:
		return true
	}
	return false
}

// AssetStatus enumerates the lifecycle of a 3D asset job.
type AssetStatus string

const (
	AssetStatusRunning   AssetStatus = "running"
	AssetStatusCompleted AssetStatus = "completed"
	AssetStatusFailed    AssetStatus = "failed"
)

// EnvironmentJob tracks one skybox variation being generated remotely.
type EnvironmentJob struct {
	ExternalID       string            `json:"external_id"`
	Status           EnvironmentStatus `json:"status"`
	Attempts         int               `json:"attempts"`
	NextPollInterval time.Duration     `json:"next_poll_interval"`
	LastPolledAt     time.Time         `json:"last_polled_at"`
	Progress         int               `json:"progress"`
	ResultURL        string            `json:"result_url,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}

// AssetJob tracks the single 3D asset generation attached to a session.
// Progress arrives through push callbacks rather than polling.
type AssetJob struct {
	ExternalID   string          `json:"external_id,omitempty"`
	Stage        string          `json:"stage,omitempty"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	Status       AssetStatus     `json:"status"`
	Result       *GeneratedAsset `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// GenerationSession is the full state of one user-initiated generation,
// spanning the environment jobs and the optional asset job. At most one
// session is active per user at a time.
type GenerationSession struct {
	SessionID            string           `json:"session_id"`
	UserID               string           `json:"user_id"`
	Prompt               string           `json:"prompt"`
	NegativePrompt       string           `json:"negative_prompt,omitempty"`
	StyleID              int              `json:"style_id"`
	NumVariations        int              `json:"num_variations"`
	Quality              string           `json:"quality,omitempty"`
	IsRunningEnvironment bool             `json:"is_running_environment"`
	IsRunningAsset       bool             `json:"is_running_asset"`
	StartedAt            time.Time        `json:"started_at"`
	ExpiresAt            time.Time        `json:"expires_at"`
	EnvironmentJobs      []EnvironmentJob `json:"environment_jobs"`
	AssetJob             *AssetJob        `json:"asset_job,omitempty"`
}

// Resumable reports whether a persisted copy of the session is still worth
// restoring: either a pipeline is running or the user left a prompt/style
// selection in flight.
func (s *GenerationSession) Resumable() bool {
	if s == nil {
		return false
	}
	if s.IsRunningEnvironment || s.IsRunningAsset {
		return true
	}
	return strings.TrimSpace(s.Prompt) != "" || s.StyleID > 0
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *GenerationSession) Clone() *GenerationSession {
	if s == nil {
		return nil
	}
	out := *s
	out.EnvironmentJobs = append([]EnvironmentJob(nil), s.EnvironmentJobs...)
	if s.AssetJob != nil {
		job := *s.AssetJob
		if s.AssetJob.Result != nil {
			job.Result = s.AssetJob.Result.Clone()
		}
		out.AssetJob = &job
	}
	return &out
}
