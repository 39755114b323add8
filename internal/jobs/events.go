package jobs

import (
	"sync"
	"time"

	"github.com/gwlsn/clipshrink/internal/metrics"
)

// EventType names a notification.
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventRejected  EventType = "rejected"
)

// Event is one notification. Job carries a snapshot for created/updated.
type Event struct {
	Seq         int64     `json:"seq"`
	Type        EventType `json:"type"`
	Time        time.Time `json:"time"`
	JobID       string    `json:"job_id,omitempty"`
	RecordingID string    `json:"recording_id,omitempty"`
	Job         *Job      `json:"job,omitempty"`
	Progress    int       `json:"progress,omitempty"`
	Speed       float64   `json:"speed,omitempty"`
	ETA         string    `json:"eta,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks and never
// drops: each subscription queues internally and is drained by its own
// goroutine. Events keep publish order per subscriber.
type Bus struct {
	mu          sync.Mutex
	seq         int64
	history     []Event
	historySize int
	subs        map[*Subscription]struct{}
}

// NewBus creates a bus that remembers the last historySize events.
func NewBus(historySize int) *Bus {
	if historySize < 0 {
		historySize = 0
	}
	return &Bus{
		historySize: historySize,
		subs:        make(map[*Subscription]struct{}),
	}
}

// Publish stamps the event with the next sequence number and delivers it.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if b.historySize > 0 {
		b.history = append(b.history, ev)
		if over := len(b.history) - b.historySize; over > 0 {
			b.history = append(b.history[:0:0], b.history[over:]...)
		}
	}
	for s := range b.subs {
		s.enqueue(ev)
	}
	b.mu.Unlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()
	return ev
}

// Since returns remembered events with a sequence number greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(seq)
}

func (b *Bus) sinceLocked(seq int64) []Event {
	var out []Event
	for _, ev := range b.history {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the sequence number of the most recent event.
func (b *Bus) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe returns a subscription receiving every event published from now on.
func (b *Bus) Subscribe() *Subscription {
	return b.subscribe(nil)
}

// SubscribeSince returns a subscription that first replays remembered
// events after seq, then continues live with no gap.
func (b *Bus) SubscribeSince(seq int64) *Subscription {
	return b.subscribe(&seq)
}

func (b *Bus) subscribe(since *int64) *Subscription {
	s := &Subscription{
		bus:  b,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if since != nil {
		s.pending = b.sinceLocked(*since)
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one reader of the bus.
type Subscription struct {
	bus  *Bus
	out  chan Event
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending []Event
}

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close detaches the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			s.mu.Lock()
		}
		ev := s.pending[0]
		s.pending[0] = Event{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// handle runs fn for every event of the given types until stop is called.
func (b *Bus) handle(fn func(Event), types ...EventType) (stop func()) {
	sub := b.Subscribe()
	go func() {
		for ev := range sub.Events() {
			for _, t := range types {
				if ev.Type == t {
					fn(ev)
					break
				}
			}
		}
	}()
	return sub.Close
}

// OnCreatedOrUpdated calls fn with the job snapshot of created and updated events.
func (b *Bus) OnCreatedOrUpdated(fn func(job *Job)) (stop func()) {
	return b.handle(func(ev Event) { fn(ev.Job) }, EventCreated, EventUpdated)
}

// OnProgress calls fn for every progress report.
func (b *Bus) OnProgress(fn func(jobID string, percent int)) (stop func()) {
	return b.handle(func(ev Event) { fn(ev.JobID, ev.Progress) }, EventProgress)
}

// OnCompleted calls fn when a job completes.
func (b *Bus) OnCompleted(fn func(jobID string)) (stop func()) {
	return b.handle(func(ev Event) { fn(ev.JobID) }, EventCompleted)
}

// OnError calls fn when a job fails.
func (b *Bus) OnError(fn func(jobID, message string)) (stop func()) {
	return b.handle(func(ev Event) { fn(ev.JobID, ev.Message) }, EventError)
}

// OnRejected calls fn when a batch entry is rejected before a job exists.
func (b *Bus) OnRejected(fn func(recordingID, message string)) (stop func()) {
	return b.handle(func(ev Event) { fn(ev.RecordingID, ev.Message) }, EventRejected)
}
