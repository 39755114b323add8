package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/clipshrink/internal/logger"
	"github.com/gwlsn/clipshrink/internal/metrics"
)

// WorkerPool runs queued tasks on a fixed number of workers. Submit never
// blocks; tasks wait in a FIFO queue until a worker is free.
type WorkerPool struct {
	runner   *Runner
	workers  int
	capacity int // max queued tasks, 0 for unbounded

	mu      sync.Mutex
	queue   []*Task
	started bool
	stopped bool

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group
}

// NewWorkerPool creates a pool of workers (clamped to MinWorkers..MaxWorkers)
// that executes tasks through runner.
func NewWorkerPool(runner *Runner, workers, queueSize int) *WorkerPool {
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		runner:   runner,
		workers:  ClampWorkerCount(workers),
		capacity: queueSize,
		notify:   make(chan struct{}, 1),
	}
}

// Start starts all workers
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.ctx, p.cancel = context.WithCancelCause(context.Background())
	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		id := i
		p.group.Go(func() error {
			p.work(id)
			return nil
		})
	}
	if len(p.queue) > 0 {
		p.signal()
	}
	logger.Info("Worker pool started", "workers", p.workers, "queue_size", p.capacity)
}

// Stop cancels running jobs as interrupted, fails everything still queued
// and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	queued := p.queue
	p.queue = nil
	metrics.QueueDepth.Set(0)
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	if cancel != nil {
		cancel(ErrInterrupted)
	}
	for _, t := range queued {
		p.runner.Abort(t, ErrInterrupted)
	}
	if group != nil {
		_ = group.Wait()
	}
	logger.Info("Worker pool stopped", "aborted", len(queued))
}

// Submit enqueues a task. It returns ErrQueueFull or ErrPoolStopped when
// the task was not accepted.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.capacity > 0 && len(p.queue) >= p.capacity {
		return ErrQueueFull
	}
	p.queue = append(p.queue, task)
	metrics.QueueDepth.Set(float64(len(p.queue)))
	p.signal()
	return nil
}

// Cancel cancels a queued or running job. A queued job is failed before
// Cancel returns; for a running job the returned channel closes once its
// terminal state is written. ok is false if the job is neither.
func (p *WorkerPool) Cancel(id string) (done <-chan struct{}, ok bool) {
	p.mu.Lock()
	for i, t := range p.queue {
		if t.Job.ID != id {
			continue
		}
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		metrics.QueueDepth.Set(float64(len(p.queue)))
		p.mu.Unlock()

		p.runner.Abort(t, ErrCancelled)
		closed := make(chan struct{})
		close(closed)
		return closed, true
	}
	// Workers register under p.mu, so a job is always in exactly one place.
	done = p.runner.Registry().Cancel(id)
	p.mu.Unlock()

	return done, done != nil
}

// Pending returns the number of queued tasks.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Workers returns the worker count.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Running returns the number of jobs currently held by workers.
func (p *WorkerPool) Running() int {
	return p.runner.Registry().Len()
}

func (p *WorkerPool) work(id int) {
	log := logger.With("worker", id)
	log.Debug("Worker started")
	defer log.Debug("Worker exited")

	for {
		task, runCtx, release, ok := p.next()
		if !ok {
			select {
			case <-p.notify:
				continue
			case <-p.ctx.Done():
				return
			}
		}
		log.Debug("Worker picked job", "job_id", task.Job.ID)
		p.runner.run(p.ctx, runCtx, release, task)
	}
}

// next pops the oldest task and registers it before releasing the lock.
func (p *WorkerPool) next() (*Task, context.Context, func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || len(p.queue) == 0 {
		return nil, nil, nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	metrics.QueueDepth.Set(float64(len(p.queue)))
	if len(p.queue) > 0 {
		p.signal()
	}

	runCtx, release := p.runner.registry.register(p.ctx, task.Job.ID)
	return task, runCtx, release, true
}

func (p *WorkerPool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
