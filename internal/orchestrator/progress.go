package orchestrator

import (
	"skygen/internal/domain"
)

// StepState is the UI state of one pipeline stage.
type StepState string

const (
	StepPending   StepState = "pending"
	StepActive    StepState = "active"
	StepCompleted StepState = "completed"
)

// Step is one entry of the 3-stage progress model.
type Step struct {
	Name     string    `json:"name"`
	State    StepState `json:"state"`
	Progress int       `json:"progress"`
}

// DeriveSteps maps a session snapshot to the environment, asset and merge
// stages shown in the UI. It is a pure function: no I/O, no mutation, and
// identical output for identical input.
func DeriveSteps(s *domain.GenerationSession) []Step {
	envProgress := EnvironmentProgress(s)
	assetProgress := 0
	hasAsset := s != nil && s.AssetJob != nil
	if hasAsset {
		assetProgress = s.AssetJob.Progress
	}
	runningEnv := s != nil && s.IsRunningEnvironment
	runningAsset := s != nil && s.IsRunningAsset

	env := Step{Name: "environment", Progress: envProgress, State: StepPending}
	switch {
	case !runningEnv && envProgress >= 100:
		env.State = StepCompleted
	case runningEnv:
		env.State = StepActive
	}

	assetStep := Step{Name: "asset", Progress: assetProgress, State: StepPending}
	switch {
	case !runningAsset && hasAsset && assetProgress == 100:
		assetStep.State = StepCompleted
	case runningAsset:
		assetStep.State = StepActive
	}

	merge := Step{Name: "merge", State: StepPending}
	switch {
	case env.State == StepCompleted && assetStep.State == StepCompleted:
		merge.State = StepCompleted
		merge.Progress = 100
	case env.State == StepCompleted && assetStep.State == StepActive:
		merge.State = StepActive
	}

	return []Step{env, assetStep, merge}
}

// EnvironmentProgress aggregates per-job poll progress into one percentage.
// The average of monotonically non-decreasing job estimates is itself
// non-decreasing while the branch is active.
func EnvironmentProgress(s *domain.GenerationSession) int {
	if s == nil || len(s.EnvironmentJobs) == 0 {
		return 0
	}
	total := 0
	for _, job := range s.EnvironmentJobs {
		total += job.Progress
	}
	return total / len(s.EnvironmentJobs)
}
