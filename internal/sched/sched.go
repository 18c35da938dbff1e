// Package sched runs the named periodic tasks of the control core.
//
// Every component registers its loop here at a configured rate instead of
// owning an ad-hoc timer, which keeps rates centrally tunable and lets tests
// drive all loops from one mock clock.
package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/tractor.core/internal/monitoring"
	"github.com/banshee-data/tractor.core/internal/timeutil"
)

// TickFunc is one iteration of a periodic task, invoked with the tick time.
type TickFunc func(now time.Time)

type task struct {
	name   string
	period time.Duration
	fn     TickFunc
}

// Scheduler owns the set of periodic tasks and runs each on its own goroutine.
type Scheduler struct {
	clock timeutil.Clock
	tasks []task
}

// New creates a Scheduler driven by the given clock.
func New(clock timeutil.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Add registers a named periodic task. Must be called before Run.
func (s *Scheduler) Add(name string, period time.Duration, fn TickFunc) error {
	if period <= 0 {
		return fmt.Errorf("task %q: period must be positive, got %v", name, period)
	}
	for _, t := range s.tasks {
		if t.name == name {
			return fmt.Errorf("task %q already registered", name)
		}
	}
	s.tasks = append(s.tasks, task{name: name, period: period, fn: fn})
	return nil
}

// Run starts every registered task and blocks until the context is cancelled.
// Tick functions run on their task's own goroutine; a slow tick delays only
// its own task.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			ticker := s.clock.NewTicker(t.period)
			defer ticker.Stop()
			monitoring.Debugf("sched: task %q running at %v", t.name, t.period)
			for {
				select {
				case <-ctx.Done():
					monitoring.Debugf("sched: task %q stopped", t.name)
					return ctx.Err()
				case now := <-ticker.C():
					t.fn(now)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// TaskNames returns the names of registered tasks in registration order.
func (s *Scheduler) TaskNames() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}
