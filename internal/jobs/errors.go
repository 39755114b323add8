package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
// These can be checked with errors.Is().
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRecordingNotFound = errors.New("recording not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCancelled         = errors.New(ReasonCancelled)
	ErrInterrupted       = errors.New(ReasonInterrupted)
	ErrPoolStopped       = errors.New("worker pool stopped")
	ErrQueueFull         = errors.New("job queue is full")
	ErrNoRecordings      = errors.New("no recordings given")
)

// jobNotFoundError returns a wrapped error for a missing job.
func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// recordingNotFoundError returns a wrapped error for a missing recording.
func recordingNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
}

// MissingSourceError means a recording is absent from the store or its
// file is absent from disk.
type MissingSourceError struct {
	RecordingID string
	Path        string
	Err         error
}

func (e *MissingSourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("source recording %s is missing", e.RecordingID)
	}
	return fmt.Sprintf("source recording %s is missing on disk: %s", e.RecordingID, e.Path)
}

func (e *MissingSourceError) Unwrap() error {
	return e.Err
}

// PersistenceError is a failed store write for a job.
type PersistenceError struct {
	Op    string
	JobID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
