package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tractor.core/internal/timeutil"
)

func TestAddRejectsNonPositivePeriod(t *testing.T) {
	t.Parallel()
	s := New(timeutil.NewMockClock(time.Now()))

	err := s.Add("bad", 0, func(time.Time) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period must be positive")

	err = s.Add("bad", -time.Second, func(time.Time) {})
	require.Error(t, err)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	t.Parallel()
	s := New(timeutil.NewMockClock(time.Now()))

	require.NoError(t, s.Add("navigation", 100*time.Millisecond, func(time.Time) {}))
	err := s.Add("navigation", 200*time.Millisecond, func(time.Time) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestTaskNamesPreserveRegistrationOrder(t *testing.T) {
	t.Parallel()
	s := New(timeutil.NewMockClock(time.Now()))

	require.NoError(t, s.Add("navigation", 100*time.Millisecond, func(time.Time) {}))
	require.NoError(t, s.Add("safety", 200*time.Millisecond, func(time.Time) {}))
	require.NoError(t, s.Add("motor", 20*time.Millisecond, func(time.Time) {}))

	assert.Equal(t, []string{"navigation", "safety", "motor"}, s.TaskNames())
}

func TestRunDeliversTicks(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := New(clock)

	ticks := make(chan time.Time, 16)
	require.NoError(t, s.Add("navigation", 100*time.Millisecond, func(now time.Time) {
		ticks <- now
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// The task goroutine registers its ticker asynchronously, so keep
	// advancing until the first tick lands.
	var first time.Time
	deadline := time.After(5 * time.Second)
advance:
	for {
		clock.Advance(100 * time.Millisecond)
		select {
		case first = <-ticks:
			break advance
		case <-deadline:
			t.Fatal("no tick delivered")
		case <-time.After(time.Millisecond):
		}
	}
	assert.False(t, first.IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestRunStopsAllTasksOnCancel(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := New(clock)

	require.NoError(t, s.Add("navigation", 100*time.Millisecond, func(time.Time) {}))
	require.NoError(t, s.Add("safety", 200*time.Millisecond, func(time.Time) {}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "context cancellation is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestRunWithNoTasksReturnsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(timeutil.NewMockClock(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
