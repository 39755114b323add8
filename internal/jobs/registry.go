package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// handle is the live state of one running job.
type handle struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	started time.Time
}

// Registry is the table of running jobs keyed by job id. Entries exist
// only while the engine runs; the runner removes its entry on every exit path.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*handle)}
}

// register derives a cancellable context for a job and records it.
// The returned release must be called when the job finishes; extra calls are no-ops.
func (r *Registry) register(parent context.Context, id string) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancelCause(parent)
	h := &handle{cancel: cancel, done: make(chan struct{}), started: time.Now()}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			r.mu.Lock()
			if r.handles[id] == h {
				delete(r.handles, id)
			}
			r.mu.Unlock()
			cancel(nil)
			close(h.done)
		})
	}
}

// Cancel signals the running job with ErrCancelled. It returns a channel
// closed when the job has finished, or nil if the job is not running.
func (r *Registry) Cancel(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return nil
	}
	h.cancel(ErrCancelled)
	return h.done
}

// Has reports whether the job is running.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

// Len returns the number of running jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Active returns the running job ids, oldest first.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.handles[ids[i]].started.Before(r.handles[ids[j]].started)
	})
	return ids
}
