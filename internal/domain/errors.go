package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrJobNotFound     = errors.New("generation job not found or expired")
	ErrSessionActive   = errors.New("a generation is already running")
	ErrNoActiveSession = errors.New("no active generation session")
)

// ValidationError rejects a request before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// QuotaExceededError rejects a request whose variation count exceeds the
// user's remaining allowance.
type QuotaExceededError struct {
	Requested int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: requested %d variations, %d remaining", e.Requested, e.Remaining)
}

// JobFailedError is a terminal failure reported by the remote service. It is
// never retried.
type JobFailedError struct {
	JobID   string
	Status  EnvironmentStatus
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("job %s failed (%s): %s", e.JobID, e.Status, e.Message)
	}
	return fmt.Sprintf("job %s failed (%s)", e.JobID, e.Status)
}

// TimeoutError is raised when a job exhausts its polling attempt budget
// before reaching a terminal status. LastStatus carries the final observed
// remote status.
type TimeoutError struct {
	JobID      string
	Attempts   int
	LastStatus EnvironmentStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d polls (last status %q)", e.JobID, e.Attempts, e.LastStatus)
}

// NetworkError wraps a transport-level failure while talking to a remote
// generation service. It is transient: pollers back off and retry it instead
// of failing the job.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed session or record write/read. Persistence
// is best-effort: callers log it and the generation continues.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// VerificationError reports a durable record that failed its post-write
// check. It degrades to a warning on the outcome, never a failed generation.
type VerificationError struct {
	DocID  string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("generation record %s failed verification: %s", e.DocID, e.Reason)
}
