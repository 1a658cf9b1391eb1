package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work. It receives a context that is cancelled on Stop.
type Job func(ctx context.Context)

// Scheduler owns the engine's periodic jobs (usage resets, cache sweep,
// analytics rollup). Jobs run on their own goroutines and never overlap with
// themselves.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	names   []string
	stopped bool
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger, ctx: ctx, cancel: cancel}
}

// Every runs job each interval until Stop. A non-positive interval is ignored.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	if interval <= 0 {
		s.logger.Warn("Skipping job with non-positive interval", zap.String("job", name))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.names = append(s.names, name)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.run(name, job)
			}
		}
	}()

	s.logger.Debug("Job scheduled", zap.String("job", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	job(s.ctx)
	s.logger.Debug("Job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

// Jobs lists the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
