// Package scheduler runs deferred, fire-and-forget follow-up tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a deferred unit of work. Its error is logged, never retried.
type Task func(ctx context.Context) error

// Scheduler runs tasks once after a fixed delay. Scheduled tasks are not
// de-duplicated and cannot be canceled individually; Stop drops the ones
// that have not started and cancels the context of running ones.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uint64]Timer
	nextID  uint64
	stopped bool
	running sync.WaitGroup
}

// New creates a scheduler driven by clock. A nil clock uses the wall clock.
func New(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint64]Timer),
	}
}

// After schedules task to run once after delay. name labels log lines.
func (s *Scheduler) After(name string, delay time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Debug("scheduler stopped, dropping task", "task", name)
		return
	}

	s.nextID++
	id := s.nextID
	s.running.Add(1)
	s.pending[id] = s.clock.AfterFunc(delay, func() {
		defer s.running.Done()

		s.mu.Lock()
		_, live := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if !live {
			return
		}
		s.run(name, task)
	})
	s.logger.Debug("task scheduled", "task", name, "delay", delay)
}

func (s *Scheduler) run(name string, task Task) {
	started := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", name, "panic", r)
		}
	}()
	if err := task(s.ctx); err != nil {
		s.logger.Warn("scheduled task failed", "task", name, "error", err)
		return
	}
	s.logger.Debug("scheduled task completed", "task", name, "duration", s.clock.Now().Sub(started))
}

// Pending returns the number of tasks waiting for their delay to elapse.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop drops waiting tasks, cancels running ones and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for id, timer := range s.pending {
			if timer.Stop() {
				s.running.Done()
			}
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
