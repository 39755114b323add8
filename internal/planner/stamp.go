package planner

import (
	"sync"
	"time"
)

// Stamper hands out strictly increasing epoch-millisecond stamps so two
// plans compiled in the same millisecond never share an output name.
type Stamper struct {
	mu   sync.Mutex
	last int64
}

// Next returns a stamp for now, bumped past the previous one if needed.
func (s *Stamper) Next(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
