package jobs

import (
	"math"
	"sync"
)

// NormalizeProgress converts an engine fraction (0.0-1.0) to a whole
// percentage, rounding to nearest and clamping to 0-100.
func NormalizeProgress(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	pct := math.Round(fraction * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}

// liveProgress holds in-memory progress for running jobs. It is never
// written to the store.
type liveProgress struct {
	mu  sync.RWMutex
	pct map[string]int
}

func newLiveProgress() *liveProgress {
	return &liveProgress{pct: make(map[string]int)}
}

// advance records pct for id unless it would move backwards, and returns
// the value now held.
func (l *liveProgress) advance(id string, pct int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.pct[id]; ok && cur > pct {
		return cur
	}
	l.pct[id] = pct
	return pct
}

func (l *liveProgress) get(id string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pct, ok := l.pct[id]
	return pct, ok
}

func (l *liveProgress) clear(id string) {
	l.mu.Lock()
	delete(l.pct, id)
	l.mu.Unlock()
}
