package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/clipshrink/internal/planner"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Failure reasons recorded in Job.Error for jobs that did not fail in the engine.
const (
	ReasonCancelled   = "cancelled"
	ReasonInterrupted = "interrupted"
	ReasonRestart     = "interrupted by restart"
)

// validTransitions is the job state machine. Terminal states have no exits.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Recording is a captured media file owned by the capture subsystem.
type Recording struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"file_path"`
	Duration   float64   `json:"duration"` // seconds
	FileSize   int64     `json:"file_size"`
	CameraName string    `json:"camera_name"`
	Resolution string    `json:"resolution"`
	FrameRate  int       `json:"frame_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Source converts the recording for the plan compiler.
func (r *Recording) Source() planner.Source {
	return planner.Source{
		ID:       r.ID,
		Path:     r.FilePath,
		Duration: time.Duration(r.Duration * float64(time.Second)),
	}
}

// Job is one transcode producing one output file
type Job struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id"` // anchor recording
	OutputPath  string    `json:"output_path"`
	Config      []byte    `json:"-"` // encoded planner.Settings
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"` // 0-100
	OutputSize  int64     `json:"output_size,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// CanTransition reports whether the state machine allows moving to next.
func (j *Job) CanTransition(next Status) bool {
	for _, s := range validTransitions[j.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// transition moves the job to next or returns ErrInvalidTransition.
func (j *Job) transition(next Status) error {
	if !j.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, next, j.ID)
	}
	j.Status = next
	return nil
}

// Copy returns a snapshot safe to hand to other goroutines.
func (j *Job) Copy() *Job {
	c := *j
	if j.Config != nil {
		c.Config = append([]byte(nil), j.Config...)
	}
	return &c
}

// JobView is a job as listed to the UI: the job row, its anchor
// recording's filename and its decoded settings.
type JobView struct {
	Job
	SourceFilename  string           `json:"source_filename"`
	Settings        planner.Settings `json:"config"`
	OutputSizeHuman string           `json:"output_size_human,omitempty"`
}

// NewID returns a fresh identifier for jobs and recordings.
func NewID() string {
	return uuid.NewString()
}
