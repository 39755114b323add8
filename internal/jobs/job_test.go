package jobs

import (
	"errors"
	"math"
	"testing"
)

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		job := &Job{ID: "j", Status: tt.from}
		err := job.transition(tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tt.from, tt.to, err)
			}
			if job.Status != tt.from {
				t.Errorf("%s -> %s: status changed on rejected transition", tt.from, tt.to)
			}
		}
	}
}

func TestJobCopyIsIndependent(t *testing.T) {
	job := &Job{ID: "j", Config: []byte(`{"mode":"single"}`)}
	c := job.Copy()
	c.Config[0] = 'X'
	c.Status = StatusFailed

	if job.Config[0] != '{' || job.Status != "" {
		t.Error("copy shares state with original")
	}
}

func TestNormalizeProgress(t *testing.T) {
	tests := []struct {
		fraction float64
		want     int
	}{
		{0, 0},
		{0.004, 0},
		{0.005, 1},
		{0.5, 50},
		{0.996, 100},
		{1, 100},
		{1.7, 100},
		{-0.3, 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := NormalizeProgress(tt.fraction); got != tt.want {
			t.Errorf("NormalizeProgress(%v) = %d, want %d", tt.fraction, got, tt.want)
		}
	}
}

func TestLiveProgressNeverMovesBackwards(t *testing.T) {
	l := newLiveProgress()

	if got := l.advance("a", 40); got != 40 {
		t.Errorf("expected 40, got %d", got)
	}
	if got := l.advance("a", 25); got != 40 {
		t.Errorf("expected progress to stay at 40, got %d", got)
	}
	if got := l.advance("a", 90); got != 90 {
		t.Errorf("expected 90, got %d", got)
	}

	l.clear("a")
	if _, ok := l.get("a"); ok {
		t.Error("expected no progress after clear")
	}
}

func TestClampWorkerCount(t *testing.T) {
	tests := map[int]int{-1: MinWorkers, 0: MinWorkers, 1: 1, 4: 4, MaxWorkers + 5: MaxWorkers}
	for in, want := range tests {
		if got := ClampWorkerCount(in); got != want {
			t.Errorf("ClampWorkerCount(%d) = %d, want %d", in, got, want)
		}
	}
}
