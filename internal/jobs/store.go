package jobs

import "context"

// Store is the persistence the orchestrator and runners need.
// Implementations must be safe for concurrent use.
type Store interface {
	// AddRecording inserts a recording.
	AddRecording(ctx context.Context, rec *Recording) error

	// GetRecording returns ErrRecordingNotFound when absent.
	GetRecording(ctx context.Context, id string) (*Recording, error)

	// ListRecordings returns all recordings, newest first.
	ListRecordings(ctx context.Context) ([]*Recording, error)

	// DeleteRecording removes a recording and, by cascade, its jobs.
	DeleteRecording(ctx context.Context, id string) error

	// InsertJob creates a job row. The anchor recording must exist.
	InsertJob(ctx context.Context, job *Job) error

	// GetJob returns ErrJobNotFound when absent.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob rewrites the mutable fields of an existing job.
	// Returns ErrJobNotFound when the row is gone.
	UpdateJob(ctx context.Context, job *Job) error

	// DeleteJob removes a job row. Missing rows are not an error.
	DeleteJob(ctx context.Context, id string) error

	// ListJobViews returns all jobs joined with their anchor filename, newest first.
	ListJobViews(ctx context.Context) ([]*JobView, error)

	// ListJobsByRecording returns the jobs anchored to a recording.
	ListJobsByRecording(ctx context.Context, recordingID string) ([]*Job, error)

	// FailUnfinishedJobs marks every pending or processing job failed
	// with reason and returns how many were changed.
	FailUnfinishedJobs(ctx context.Context, reason string) (int, error)

	// CountByStatus returns job counts keyed by status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
