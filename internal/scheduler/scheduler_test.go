package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksRunUntilStopped(t *testing.T) {
	s := New(nil)
	var fast, slow atomic.Int32
	require.NoError(t, s.Add("fast", 5*time.Millisecond, func(context.Context) { fast.Add(1) }))
	require.NoError(t, s.Add("slow", time.Hour, func(context.Context) { slow.Add(1) }))
	assert.Equal(t, []string{"fast", "slow"}, s.Tasks())

	s.Start(context.Background())
	require.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	stopped := fast.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, fast.Load(), "no runs after Stop")
	assert.Zero(t, slow.Load())
}

func TestAddValidation(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Add("zero", 0, func(context.Context) {}))

	s.Start(context.Background())
	defer s.Stop()
	assert.ErrorIs(t, s.Add("late", time.Second, func(context.Context) {}), ErrStarted)
}

func TestContextCancellationStopsTasks(t *testing.T) {
	s := New(nil)
	started, done := make(chan struct{}), make(chan struct{})
	var startOnce, doneOnce sync.Once
	require.NoError(t, s.Add("watch", time.Millisecond, func(ctx context.Context) {
		startOnce.Do(func() { close(started) })
		<-ctx.Done()
		doneOnce.Do(func() { close(done) })
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after cancellation")
	}
}

func TestPanickingTaskKeepsRunning(t *testing.T) {
	s := New(nil)
	var calls atomic.Int32
	require.NoError(t, s.Add("boom", 2*time.Millisecond, func(context.Context) {
		calls.Add(1)
		panic("boom")
	}))
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	New(nil).Stop()
}
