package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryRunsUntilStop(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.Every("tick", 5*time.Millisecond, func(ctx context.Context) { runs.Add(1) })

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs.Load())
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job kept running after Stop")
	}
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	var runs atomic.Int32
	s.Every("boom", 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		panic("boom")
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected the job to run again after a panic, got %d runs", runs.Load())
	}
}

func TestEveryAfterStopIsIgnored(t *testing.T) {
	s := New(nil)
	s.Stop()
	s.Every("late", time.Millisecond, func(ctx context.Context) {})
	if len(s.Jobs()) != 0 {
		t.Error("expected no jobs registered after Stop")
	}
	s.Stop()
}
