package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/clipshrink/internal/ffmpeg"
	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/metrics"
	"github.com/gwlsn/clipshrink/internal/planner"
)

// Defaults for recordings registered without probe data.
const (
	DefaultCameraName = "default camera"
	DefaultResolution = "1280x720"
	DefaultFrameRate  = 30
)

// Prober reads media metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Rejection is a batch entry for which no job was created.
type Rejection struct {
	RecordingID string `json:"recording_id"`
	Message     string `json:"message"`
}

// Submission is the outcome of SubmitBatch.
type Submission struct {
	JobIDs   []string    `json:"job_ids"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// RecordingInput describes a file to register as a recording.
type RecordingInput struct {
	Path       string `json:"path"`
	CameraName string `json:"camera_name,omitempty"`
}

// Stats summarizes the orchestrator for the API.
type Stats struct {
	Counts      map[Status]int `json:"counts"`
	Queued      int            `json:"queued"`
	Running     int            `json:"running"`
	Workers     int            `json:"workers"`
	Subscribers int            `json:"subscribers"`
	LastEvent   int64          `json:"last_event"`
}

// Orchestrator accepts batches, persists jobs and hands them to the pool.
type Orchestrator struct {
	store    Store
	pool     *WorkerPool
	runner   *Runner
	bus      *Bus
	prober   Prober
	compiler *planner.Compiler
	stamper  planner.Stamper
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator. Outputs go to outputDir, or next
// to the first source when it is empty. prober may be nil.
func NewOrchestrator(store Store, pool *WorkerPool, bus *Bus, prober Prober, outputDir string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		pool:     pool,
		runner:   pool.runner,
		bus:      bus,
		prober:   prober,
		compiler: &planner.Compiler{OutputDir: outputDir},
		now:      time.Now,
	}
}

// Bus returns the event bus.
func (o *Orchestrator) Bus() *Bus {
	return o.bus
}

// SubmitBatch creates jobs for the given recordings. In merge mode with
// more than one recording a single job concatenates them in the order
// given; otherwise each recording gets its own job. Recordings that are
// missing are rejected and reported, never silently dropped.
func (o *Orchestrator) SubmitBatch(ctx context.Context, recordingIDs []string, s planner.Settings) (*Submission, error) {
	if len(recordingIDs) == 0 {
		return nil, ErrNoRecordings
	}
	s = s.Normalize()
	sub := &Submission{JobIDs: []string{}}

	if s.Mode == planner.ModeMerge && len(recordingIDs) > 1 {
		recs, ok := o.resolve(ctx, sub, recordingIDs)
		if !ok {
			logger.Warn("Merge batch rejected", "recordings", len(recordingIDs), "missing", len(sub.Rejected))
			return sub, nil
		}
		merged := s
		merged.SourceCount = len(recs)
		o.submit(ctx, sub, recs, merged)
		return sub, nil
	}

	single := s
	single.Mode = planner.ModeSingle
	single.SourceCount = 0
	for _, id := range recordingIDs {
		recs, ok := o.resolve(ctx, sub, []string{id})
		if !ok {
			continue
		}
		o.submit(ctx, sub, recs, single)
	}
	return sub, nil
}

// resolve loads every recording and checks its file exists. Any missing
// one is rejected and ok is false.
func (o *Orchestrator) resolve(ctx context.Context, sub *Submission, ids []string) ([]*Recording, bool) {
	recs := make([]*Recording, 0, len(ids))
	ok := true
	for _, id := range ids {
		rec, err := o.store.GetRecording(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRecordingNotFound) {
				err = &MissingSourceError{RecordingID: id, Err: err}
			}
			o.reject(sub, id, err)
			ok = false
			continue
		}
		if _, err := os.Stat(rec.FilePath); err != nil {
			o.reject(sub, id, &MissingSourceError{RecordingID: id, Path: rec.FilePath, Err: err})
			ok = false
			continue
		}
		recs = append(recs, rec)
	}
	return recs, ok
}

func (o *Orchestrator) reject(sub *Submission, recordingID string, err error) {
	logger.Warn("Rejected batch entry", "recording_id", recordingID, "error", err)
	sub.Rejected = append(sub.Rejected, Rejection{RecordingID: recordingID, Message: err.Error()})
	metrics.JobsRejectedTotal.Inc()
	o.bus.Publish(Event{Type: EventRejected, RecordingID: recordingID, Message: err.Error()})
}

// submit compiles, persists and enqueues one job.
func (o *Orchestrator) submit(ctx context.Context, sub *Submission, recs []*Recording, s planner.Settings) {
	anchor := recs[0].ID
	sources := make([]planner.Source, len(recs))
	for i, rec := range recs {
		sources[i] = rec.Source()
	}

	now := o.now()
	plan, err := o.compiler.Compile(sources, s, o.stamper.Next(now))
	if err != nil {
		o.reject(sub, anchor, err)
		return
	}
	blob, err := s.Encode()
	if err != nil {
		o.reject(sub, anchor, fmt.Errorf("encode settings: %w", err))
		return
	}

	job := &Job{
		ID:          NewID(),
		RecordingID: anchor,
		OutputPath:  plan.OutputPath,
		Config:      blob,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		o.reject(sub, anchor, &PersistenceError{Op: "insert", JobID: job.ID, Err: err})
		return
	}

	sub.JobIDs = append(sub.JobIDs, job.ID)
	metrics.JobsSubmittedTotal.WithLabelValues(string(plan.Mode)).Inc()
	o.bus.Publish(Event{Type: EventCreated, JobID: job.ID, RecordingID: anchor, Job: job.Copy()})
	logger.Info("Job queued", "job_id", job.ID, "mode", plan.Mode, "sources", len(recs), "output", plan.OutputPath)

	task := &Task{Job: job, Plan: plan, Sources: recs}
	if err := o.pool.Submit(task); err != nil {
		logger.Warn("Job not accepted by pool", "job_id", job.ID, "error", err)
		o.runner.Abort(task, err)
	}
}

// ListJobs returns every job, newest first, with live progress for
// running jobs overlaid on the stored value.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*JobView, error) {
	views, err := o.store.ListJobViews(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		o.decorate(v)
	}
	return views, nil
}

// GetJob returns one job as listed by ListJobs.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*JobView, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &JobView{Job: *job}
	if rec, err := o.store.GetRecording(ctx, job.RecordingID); err == nil {
		v.SourceFilename = rec.Filename
	}
	o.decorate(v)
	return v, nil
}

func (o *Orchestrator) decorate(v *JobView) {
	settings, err := planner.DecodeSettings(v.Config)
	if err != nil {
		logger.Debug("Stored job settings unreadable", "job_id", v.ID, "error", err)
	}
	v.Settings = settings
	if v.Status == StatusProcessing {
		if pct, ok := o.runner.LiveProgress(v.ID); ok {
			v.Progress = pct
		}
	}
	if v.OutputSize > 0 {
		v.OutputSizeHuman = humanize.Bytes(uint64(v.OutputSize))
	}
}

// CancelJob stops a queued or running job, which ends failed with reason
// "cancelled". It waits until the terminal state is written or ctx ends.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) error {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, job.Status)
	}
	done, ok := o.pool.Cancel(id)
	if !ok {
		return fmt.Errorf("%w: job %s is not queued or running", ErrInvalidTransition, id)
	}
	logger.Info("Job cancel requested", "job_id", id)
	return wait(ctx, done)
}

// DeleteJob removes a job, cancelling it first if it is still active.
// With deleteOutput the output file is removed too.
func (o *Orchestrator) DeleteJob(ctx context.Context, id string, deleteOutput bool) error {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		if done, ok := o.pool.Cancel(id); ok {
			if err := wait(ctx, done); err != nil {
				return err
			}
		}
	}
	if err := o.store.DeleteJob(ctx, id); err != nil {
		return &PersistenceError{Op: "delete", JobID: id, Err: err}
	}
	if deleteOutput && job.OutputPath != "" {
		removeFile(job.OutputPath)
	}
	logger.Info("Job deleted", "job_id", id, "output_removed", deleteOutput)
	return nil
}

// RegisterRecording adds a file on disk as a recording. Metadata comes
// from the prober when available and falls back to defaults.
func (o *Orchestrator) RegisterRecording(ctx context.Context, in RecordingInput) (*Recording, error) {
	path, err := filepath.Abs(in.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &MissingSourceError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	rec := &Recording{
		ID:         NewID(),
		Filename:   filepath.Base(path),
		FilePath:   path,
		FileSize:   info.Size(),
		CameraName: in.CameraName,
		Resolution: DefaultResolution,
		FrameRate:  DefaultFrameRate,
		CreatedAt:  o.now(),
	}
	if rec.CameraName == "" {
		rec.CameraName = DefaultCameraName
	}

	if o.prober != nil {
		probe, err := o.prober.Probe(ctx, path)
		if err != nil {
			logger.Warn("Probe failed, using defaults", "path", path, "error", err)
		} else {
			rec.Duration = probe.Duration.Seconds()
			if res := probe.Resolution(); res != "" {
				rec.Resolution = res
			}
			if probe.FrameRate > 0 {
				rec.FrameRate = int(math.Round(probe.FrameRate))
			}
		}
	}

	if err := o.store.AddRecording(ctx, rec); err != nil {
		return nil, err
	}
	logger.Info("Recording registered", "recording_id", rec.ID, "file", rec.Filename,
		"size", humanize.Bytes(uint64(rec.FileSize)))
	return rec, nil
}

// ListRecordings returns all recordings, newest first.
func (o *Orchestrator) ListRecordings(ctx context.Context) ([]*Recording, error) {
	return o.store.ListRecordings(ctx)
}

// GetRecording returns one recording.
func (o *Orchestrator) GetRecording(ctx context.Context, id string) (*Recording, error) {
	return o.store.GetRecording(ctx, id)
}

// DeleteRecording removes a recording and every job anchored to it,
// cancelling the active ones first. With deleteFile the media file is
// removed too.
func (o *Orchestrator) DeleteRecording(ctx context.Context, id string, deleteFile bool) error {
	rec, err := o.store.GetRecording(ctx, id)
	if err != nil {
		return err
	}
	anchored, err := o.store.ListJobsByRecording(ctx, id)
	if err != nil {
		return err
	}
	for _, job := range anchored {
		if job.IsTerminal() {
			continue
		}
		if done, ok := o.pool.Cancel(job.ID); ok {
			if err := wait(ctx, done); err != nil {
				return err
			}
		}
	}
	if err := o.store.DeleteRecording(ctx, id); err != nil {
		return err
	}
	if deleteFile {
		removeFile(rec.FilePath)
	}
	logger.Info("Recording deleted", "recording_id", id, "jobs", len(anchored), "file_removed", deleteFile)
	return nil
}

// Stats returns job counts and pool state.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Counts:      counts,
		Queued:      o.pool.Pending(),
		Running:     o.pool.Running(),
		Workers:     o.pool.Workers(),
		Subscribers: o.bus.Subscribers(),
		LastEvent:   o.bus.LastSeq(),
	}, nil
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove file", "path", path, "error", err)
	}
}
