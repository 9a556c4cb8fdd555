package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, q *Queue, id string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := q.Get(id)
		require.NoError(t, err)
		if s.Status == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
	return Snapshot{}
}

func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

func TestTaskLifecycle(t *testing.T) {
	q := New(Options{Workers: 1})
	defer closeQueue(t, q)

	release := make(chan struct{})
	id, err := q.Submit(func(_ context.Context, report func(string)) (any, error) {
		report("thinking")
		<-release
		return map[string]any{"message": "done"}, nil
	})
	require.NoError(t, err)

	running := waitFor(t, q, id, StatusProgress)
	assert.False(t, running.Done())
	assert.Eventually(t, func() bool {
		s, _ := q.Get(id)
		return s.Progress == "thinking"
	}, time.Second, 5*time.Millisecond)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := q.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, final.Status)
	assert.Equal(t, map[string]any{"message": "done"}, final.Result)
	assert.Empty(t, final.Error)
}

func TestTaskFailureAndPanic(t *testing.T) {
	q := New(Options{Workers: 2})
	defer closeQueue(t, q)

	failed, err := q.Submit(func(context.Context, func(string)) (any, error) {
		return "partial", errors.New("model unavailable")
	})
	require.NoError(t, err)
	panicked, err := q.Submit(func(context.Context, func(string)) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	s := waitFor(t, q, failed, StatusFailure)
	assert.Equal(t, "model unavailable", s.Error)
	assert.Equal(t, "partial", s.Result)

	s = waitFor(t, q, panicked, StatusFailure)
	assert.Contains(t, s.Error, "boom")
}

func TestUnknownTask(t *testing.T) {
	q := New(Options{})
	defer closeQueue(t, q)
	_, err := q.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueFull(t *testing.T) {
	q := New(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	block := func(context.Context, func(string)) (any, error) {
		<-release
		return nil, nil
	}

	first, err := q.Submit(block)
	require.NoError(t, err)
	waitFor(t, q, first, StatusProgress)

	queued, err := q.Submit(block)
	require.NoError(t, err)
	s, err := q.Get(queued)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.Status)

	_, err = q.Submit(block)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	closeQueue(t, q)
	_, err = q.Submit(block)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTaskTimeout(t *testing.T) {
	q := New(Options{Workers: 1, TaskTimeout: 20 * time.Millisecond})
	defer closeQueue(t, q)

	id, err := q.Submit(func(ctx context.Context, _ func(string)) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	s := waitFor(t, q, id, StatusFailure)
	assert.Contains(t, s.Error, "deadline")
}

func TestRetentionSweep(t *testing.T) {
	q := New(Options{Workers: 1, Retention: time.Minute})
	defer closeQueue(t, q)

	id, err := q.Submit(func(context.Context, func(string)) (any, error) { return "ok", nil })
	require.NoError(t, err)
	waitFor(t, q, id, StatusSuccess)

	later := time.Now().UTC().Add(2 * time.Minute)
	q.mu.Lock()
	q.now = func() time.Time { return later }
	q.mu.Unlock()

	_, err = q.Submit(func(context.Context, func(string)) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, err = q.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}
