package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gwlsn/clipshrink/internal/ffmpeg"
	"github.com/gwlsn/clipshrink/internal/planner"
	"github.com/gwlsn/clipshrink/internal/staging"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu       sync.Mutex
	recs     map[string]*Recording
	jobs     map[string]*Job
	order    []string // job insertion order
	failNext int      // UpdateJob calls to fail before succeeding
	updates  int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*Recording), jobs: make(map[string]*Job)}
}

func (m *memStore) AddRecording(_ context.Context, rec *Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.recs[rec.ID] = &c
	return nil
}

func (m *memStore) GetRecording(_ context.Context, id string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, recordingNotFoundError(id)
	}
	c := *rec
	return &c, nil
}

func (m *memStore) ListRecordings(_ context.Context) ([]*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Recording{}
	for _, rec := range m.recs {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteRecording(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	for jid, job := range m.jobs {
		if job.RecordingID == id {
			delete(m.jobs, jid)
		}
	}
	return nil
}

func (m *memStore) InsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[job.RecordingID]; !ok {
		return errors.New("FOREIGN KEY constraint failed")
	}
	m.jobs[job.ID] = job.Copy()
	m.order = append(m.order, job.ID)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	return job.Copy(), nil
}

func (m *memStore) UpdateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.failNext > 0 {
		m.failNext--
		return errors.New("database is locked")
	}
	if _, ok := m.jobs[job.ID]; !ok {
		return jobNotFoundError(job.ID)
	}
	m.jobs[job.ID] = job.Copy()
	return nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) ListJobViews(_ context.Context) ([]*JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := []*JobView{}
	for i := len(m.order) - 1; i >= 0; i-- {
		job, ok := m.jobs[m.order[i]]
		if !ok {
			continue
		}
		v := &JobView{Job: *job.Copy()}
		if rec, ok := m.recs[job.RecordingID]; ok {
			v.SourceFilename = rec.Filename
		}
		views = append(views, v)
	}
	return views, nil
}

func (m *memStore) ListJobsByRecording(_ context.Context, recordingID string) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok && job.RecordingID == recordingID {
			out = append(out, job.Copy())
		}
	}
	return out, nil
}

func (m *memStore) FailUnfinishedJobs(_ context.Context, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if !job.IsTerminal() {
			job.Status = StatusFailed
			job.Error = reason
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Status]int{}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// setFailNext makes the next n UpdateJob calls fail.
func (m *memStore) setFailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

func (m *memStore) job(t *testing.T, id string) *Job {
	t.Helper()
	job, err := m.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("job %s: %v", id, err)
	}
	return job
}

// fakeEngine writes a small output file instead of running ffmpeg.
type fakeEngine struct {
	mu        sync.Mutex
	plans     []*planner.Plan
	manifests []string // manifest contents seen during merge runs
	progress  []float64
	fail      error
	block     bool
	gate      chan struct{} // when set, runs wait for it to close before finishing
	noOutput  bool          // succeed without writing the output file
	started   chan string   // receives the output path when a run starts
}

func (e *fakeEngine) Transcode(ctx context.Context, p *planner.Plan, progress chan<- ffmpeg.Progress) error {
	e.mu.Lock()
	e.plans = append(e.plans, p)
	if p.Manifest != "" {
		data, _ := os.ReadFile(p.Manifest)
		e.manifests = append(e.manifests, string(data))
	}
	fail, block, steps, started := e.fail, e.block, e.progress, e.started
	gate, noOutput := e.gate, e.noOutput
	e.mu.Unlock()

	for _, f := range steps {
		progress <- ffmpeg.Progress{Fraction: f, Speed: 2, ETA: 3 * time.Second}
	}
	if started != nil {
		started <- p.OutputPath
	}
	if block {
		<-ctx.Done()
		return fmt.Errorf("ffmpeg stopped: %w", context.Cause(ctx))
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("ffmpeg stopped: %w", context.Cause(ctx))
		}
	}
	if fail != nil {
		return fail
	}
	if noOutput {
		return nil
	}
	return os.WriteFile(p.OutputPath, []byte("encoded output"), 0644)
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.plans)
}

type harness struct {
	store  *memStore
	engine *fakeEngine
	bus    *Bus
	runner *Runner
	pool   *WorkerPool
	orch   *Orchestrator
	dir    string
}

func newHarness(t *testing.T, engine *fakeEngine, workers, queueSize int) *harness {
	t.Helper()
	dir := t.TempDir()
	st := newMemStore()
	bus := NewBus(1000)
	runner := NewRunner(st, engine, staging.NewStager(dir), bus, RunnerOptions{
		PersistAttempts: 3,
		PersistBackoff:  time.Millisecond,
	})
	pool := NewWorkerPool(runner, workers, queueSize)
	t.Cleanup(pool.Stop)

	return &harness{
		store:  st,
		engine: engine,
		bus:    bus,
		runner: runner,
		pool:   pool,
		orch:   NewOrchestrator(st, pool, bus, nil, dir),
		dir:    dir,
	}
}

// addRecording writes a source file and registers it directly in the store.
func (h *harness) addRecording(t *testing.T, name string) *Recording {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("raw video"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &Recording{
		ID:         NewID(),
		Filename:   name,
		FilePath:   path,
		Duration:   10,
		FileSize:   9,
		CameraName: DefaultCameraName,
		Resolution: DefaultResolution,
		FrameRate:  DefaultFrameRate,
		CreatedAt:  time.Now(),
	}
	h.store.AddRecording(context.Background(), rec)
	return rec
}

// waitTerminal collects events until every id has had a terminal update.
func waitTerminal(t *testing.T, sub *Subscription, ids ...string) map[string][]Event {
	t.Helper()
	events := make(map[string][]Event)
	remaining := make(map[string]bool)
	for _, id := range ids {
		remaining[id] = true
	}

	timeout := time.After(5 * time.Second)
	for len(remaining) > 0 {
		select {
		case ev := <-sub.Events():
			if ev.JobID == "" {
				continue
			}
			events[ev.JobID] = append(events[ev.JobID], ev)
			if ev.Type == EventUpdated && ev.Job != nil && ev.Job.IsTerminal() {
				delete(remaining, ev.JobID)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for jobs %v", remaining)
		}
	}
	return events
}

// waitEvent returns the first event of type typ for jobID.
func waitEvent(t *testing.T, sub *Subscription, jobID string, typ EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.JobID == jobID && ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s on %s", typ, jobID)
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
