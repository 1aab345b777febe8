// Package scheduler runs named maintenance tasks at fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// ErrStarted is returned when tasks are added to a running scheduler.
var ErrStarted = errors.New("scheduler already started")

type task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

// Scheduler owns a set of recurring tasks. Each task runs in its own goroutine and
// never overlaps with itself.
type Scheduler struct {
	logger log.Logger

	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New creates an empty scheduler.
func New(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scheduler{logger: logger}
}

// Add registers fn to run every interval once the scheduler starts.
func (s *Scheduler) Add(name string, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches every task. Tasks stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		s.group.Go(func() error {
			s.run(ctx, t)
			return nil
		})
	}
	_ = level.Debug(s.logger).Log("msg", "scheduler started", "tasks", len(s.tasks))
}

func (s *Scheduler) run(ctx context.Context, t task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, t)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			_ = level.Error(s.logger).Log("msg", "scheduled task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}

// Stop cancels all tasks and waits for running invocations to return.
// The scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = group.Wait()
	_ = level.Debug(s.logger).Log("msg", "scheduler stopped")
}

// Tasks returns the registered task names in order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}
