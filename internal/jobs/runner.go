package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/clipshrink/internal/ffmpeg"
	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/metrics"
	"github.com/gwlsn/clipshrink/internal/planner"
	"github.com/gwlsn/clipshrink/internal/staging"
	"github.com/gwlsn/clipshrink/internal/util"
)

// Engine runs a compiled plan to completion. Implementations must not
// send on progress after Transcode returns.
type Engine interface {
	Transcode(ctx context.Context, p *planner.Plan, progress chan<- ffmpeg.Progress) error
}

// Task is a persisted pending job together with its compiled plan.
type Task struct {
	Job     *Job
	Plan    *planner.Plan
	Sources []*Recording
}

// RunnerOptions tunes terminal-state persistence.
type RunnerOptions struct {
	PersistAttempts int
	PersistBackoff  time.Duration
}

const storeTimeout = 10 * time.Second

// Runner owns the lifecycle of a job from dispatch to terminal state.
type Runner struct {
	store    Store
	engine   Engine
	stager   *staging.Stager
	bus      *Bus
	registry *Registry
	live     *liveProgress
	attempts int
	backoff  time.Duration
}

// NewRunner creates a Runner.
func NewRunner(store Store, engine Engine, stager *staging.Stager, bus *Bus, opts RunnerOptions) *Runner {
	if opts.PersistAttempts < 1 {
		opts.PersistAttempts = 1
	}
	return &Runner{
		store:    store,
		engine:   engine,
		stager:   stager,
		bus:      bus,
		registry: NewRegistry(),
		live:     newLiveProgress(),
		attempts: opts.PersistAttempts,
		backoff:  opts.PersistBackoff,
	}
}

// Registry returns the table of running jobs.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// LiveProgress returns the in-memory percentage of a running job.
func (r *Runner) LiveProgress(id string) (int, bool) {
	return r.live.get(id)
}

// Run takes a pending job to a terminal state. Cancelling ctx interrupts
// the job; Registry().Cancel cancels it.
func (r *Runner) Run(ctx context.Context, task *Task) {
	runCtx, release := r.registry.register(ctx, task.Job.ID)
	r.run(ctx, runCtx, release, task)
}

// run is Run with the registry entry already taken. The entry is released
// only after the terminal state has been written.
func (r *Runner) run(ctx, runCtx context.Context, release func(), task *Task) {
	defer release()
	job := task.Job.Copy()

	if err := interruption(ctx, runCtx); err != nil {
		r.fail(job, reasonLabel(err), err.Error(), nil)
		return
	}

	if err := checkSources(task.Sources); err != nil {
		logger.Warn("Source missing at dispatch", "job_id", job.ID, "error", err)
		r.fail(job, "missing_source", err.Error(), nil)
		return
	}

	if err := job.transition(StatusProcessing); err != nil {
		logger.Error("Cannot dispatch job", "job_id", job.ID, "error", err)
		return
	}
	job.Progress = 0
	job.StartedAt = time.Now()

	if err := r.update(job); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			logger.Info("Job deleted before dispatch", "job_id", job.ID)
			return
		}
		logger.Error("Failed to persist dispatch", "job_id", job.ID, "error", err)
		job.Status = StatusPending
		r.fail(job, "persistence", (&PersistenceError{Op: "dispatch", JobID: job.ID, Err: err}).Error(), nil)
		return
	}

	r.live.advance(job.ID, 0)
	r.publishJob(EventUpdated, job)
	logger.Info("Job started", "job_id", job.ID, "output", job.OutputPath, "inputs", len(task.Plan.Inputs))

	art, err := r.stager.Prepare(task.Plan)
	if err != nil {
		r.fail(job, "staging", fmt.Sprintf("stage inputs: %v", err), nil)
		return
	}

	metrics.JobsInProgress.Inc()
	started := time.Now()
	err = r.execute(runCtx, job.ID, task.Plan)
	metrics.JobsInProgress.Dec()
	metrics.JobDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if cause := interruption(ctx, runCtx); cause != nil {
			logger.Info("Job stopped", "job_id", job.ID, "reason", cause)
			r.fail(job, reasonLabel(cause), cause.Error(), art)
			return
		}
		logger.Error("Job failed", "job_id", job.ID, "error", err)
		r.fail(job, "engine", err.Error(), art)
		return
	}
	r.complete(job, task.Plan, art, time.Since(started))
}

// Abort fails a job that never reached the engine, e.g. cancelled while queued.
func (r *Runner) Abort(task *Task, reason error) {
	job := task.Job.Copy()
	r.fail(job, reasonLabel(reason), reason.Error(), nil)
}

// execute runs the engine and forwards its progress until it returns.
func (r *Runner) execute(ctx context.Context, jobID string, plan *planner.Plan) error {
	progressCh := make(chan ffmpeg.Progress, 16)
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)
		for p := range progressCh {
			pct := r.live.advance(jobID, NormalizeProgress(p.Fraction))
			r.bus.Publish(Event{
				Type:     EventProgress,
				JobID:    jobID,
				Progress: pct,
				Speed:    p.Speed,
				ETA:      util.FormatDuration(p.ETA),
			})
		}
	}()

	err := r.engine.Transcode(ctx, plan, progressCh)
	close(progressCh)
	<-forwarded
	return err
}

func (r *Runner) complete(job *Job, plan *planner.Plan, art *staging.Artifact, elapsed time.Duration) {
	info, err := os.Stat(plan.OutputPath)
	if err != nil {
		logger.Error("Output missing after transcode", "job_id", job.ID, "path", plan.OutputPath, "error", err)
		r.fail(job, "output_missing", fmt.Sprintf("output missing after transcode: %v", err), art)
		return
	}

	if err := job.transition(StatusCompleted); err != nil {
		logger.Error("Cannot complete job", "job_id", job.ID, "error", err)
		return
	}
	job.Progress = 100
	job.OutputSize = info.Size()
	job.Error = ""
	job.CompletedAt = time.Now()

	err = r.persistTerminal(job)
	art.Cleanup()
	r.live.clear(job.ID)
	if err != nil {
		r.lost(job, err)
		return
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(StatusCompleted), "").Inc()
	metrics.OutputBytesTotal.Add(float64(job.OutputSize))
	logger.Info("Job complete", "job_id", job.ID,
		"duration", util.FormatDuration(elapsed),
		"size", humanize.Bytes(uint64(job.OutputSize)))

	r.bus.Publish(Event{Type: EventCompleted, JobID: job.ID})
	r.publishJob(EventUpdated, job)
}

func (r *Runner) fail(job *Job, reason, message string, art *staging.Artifact) {
	if err := job.transition(StatusFailed); err != nil {
		logger.Error("Cannot fail job", "job_id", job.ID, "error", err)
		art.Cleanup()
		return
	}
	job.Progress = 0
	job.OutputSize = 0
	job.Error = message
	job.CompletedAt = time.Now()

	err := r.persistTerminal(job)
	art.Cleanup()
	r.live.clear(job.ID)
	if err != nil {
		r.lost(job, err)
		return
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(StatusFailed), reason).Inc()

	r.bus.Publish(Event{Type: EventError, JobID: job.ID, Message: message})
	r.publishJob(EventUpdated, job)
}

// lost reports a job whose terminal state could not be stored. No
// completed or updated event is sent since the stored row disagrees.
func (r *Runner) lost(job *Job, err error) {
	metrics.JobsFinishedTotal.WithLabelValues(string(StatusFailed), "persistence").Inc()
	message := err.Error()
	if job.Status == StatusFailed && job.Error != "" {
		message = job.Error + "; " + message
	}
	r.bus.Publish(Event{Type: EventError, JobID: job.ID, Message: message})
}

// persistTerminal writes a terminal state, retrying with linear backoff.
// A row deleted in the meantime counts as done. The returned error is a
// *PersistenceError once every attempt has failed.
func (r *Runner) persistTerminal(job *Job) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.update(job)
		if err == nil {
			if attempt > 1 {
				metrics.PersistRetriesTotal.WithLabelValues("recovered").Inc()
			}
			return nil
		}
		if errors.Is(err, ErrJobNotFound) {
			logger.Debug("Job deleted before terminal update", "job_id", job.ID)
			return nil
		}
		logger.Warn("Terminal update failed", "job_id", job.ID, "attempt", attempt, "error", err)
		if attempt < r.attempts {
			time.Sleep(r.backoff * time.Duration(attempt))
		}
	}

	perr := &PersistenceError{Op: "finish", JobID: job.ID, Err: err}
	metrics.PersistRetriesTotal.WithLabelValues("exhausted").Inc()
	logger.Error("Giving up on terminal update", "job_id", job.ID, "status", job.Status, "error", perr)
	return perr
}

func (r *Runner) update(job *Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return r.store.UpdateJob(ctx, job)
}

func (r *Runner) publishJob(t EventType, job *Job) {
	r.bus.Publish(Event{Type: t, JobID: job.ID, RecordingID: job.RecordingID, Job: job.Copy()})
}

// interruption returns ErrCancelled or ErrInterrupted if the job was
// stopped from outside, nil otherwise.
func interruption(ctx, runCtx context.Context) error {
	if errors.Is(context.Cause(runCtx), ErrCancelled) {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

func checkSources(recs []*Recording) error {
	for _, rec := range recs {
		if _, err := os.Stat(rec.FilePath); err != nil {
			return &MissingSourceError{RecordingID: rec.ID, Path: rec.FilePath, Err: err}
		}
	}
	return nil
}

func reasonLabel(err error) string {
	var missing *MissingSourceError
	switch {
	case errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, ErrInterrupted):
		return ReasonInterrupted
	case errors.As(err, &missing):
		return "missing_source"
	default:
		return "aborted"
	}
}
