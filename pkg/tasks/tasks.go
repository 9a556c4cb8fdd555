// Package tasks runs chat turns in the background and tracks their status
// for polling clients.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxie/pkg/logx"
)

// Status is the lifecycle state of a task.
type Status string

// Task states, in lifecycle order.
const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
)

var (
	// ErrNotFound is returned for unknown or expired task ids.
	ErrNotFound = errors.New("task not found")
	// ErrQueueFull is returned when no slot is free for a new task.
	ErrQueueFull = errors.New("task queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("task queue is closed")
)

// Func is the work of one task. report updates the progress text.
type Func func(ctx context.Context, report func(progress string)) (any, error)

// Snapshot is the polled view of a task.
type Snapshot struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    any       `json:"result,omitempty"`
	ID        string    `json:"task_id"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Progress  string    `json:"progress,omitempty"`
}

// Done reports whether the task reached a final state.
func (s Snapshot) Done() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailure
}

type job struct {
	fn Func
	id string
}

// Options configure a Queue.
type Options struct {
	Workers   int
	QueueSize int

	// Retention is how long finished tasks stay pollable.
	Retention time.Duration

	// TaskTimeout bounds one task. Zero means no bound beyond the
	// function's own deadline.
	TaskTimeout time.Duration
}

// Queue is a fixed pool of workers draining a bounded job channel.
type Queue struct {
	ctx     context.Context //nolint:containedctx // parent of every task context
	cancel  context.CancelFunc
	logger  *logx.Logger
	tasks   map[string]*Snapshot
	jobs    chan job
	now     func() time.Time
	wg      sync.WaitGroup
	mu      sync.RWMutex
	opts    Options
	closed  bool
	closeMu sync.Mutex
}

// New starts a queue. Zero options get defaults: 2 workers, 64 slots and one
// hour of retention.
func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:    ctx,
		cancel: cancel,
		logger: logx.NewLogger("tasks"),
		tasks:  make(map[string]*Snapshot),
		jobs:   make(chan job, opts.QueueSize),
		now:    func() time.Time { return time.Now().UTC() },
		opts:   opts,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("🚀 Task queue started with %d workers", opts.Workers)
	return q
}

// Submit queues fn and returns its task id.
func (q *Queue) Submit(fn Func) (string, error) {
	if fn == nil {
		return "", errors.New("task function is required")
	}
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	q.mu.Lock()
	now := q.now()
	q.sweep(now)
	q.tasks[id] = &Snapshot{ID: id, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	q.mu.Unlock()

	select {
	case q.jobs <- job{id: id, fn: fn}:
		return id, nil
	default:
		q.mu.Lock()
		delete(q.tasks, id)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Get returns a copy of the task's current state.
func (q *Queue) Get(id string) (Snapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s, ok := q.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return *s, nil
}

// Wait blocks until the task is done or ctx ends. It polls.
func (q *Queue) Wait(ctx context.Context, id string) (Snapshot, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s, err := q.Get(id)
		if err != nil || s.Done() {
			return s, err
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err() //nolint:wrapcheck // context error passthrough
		case <-ticker.C:
		}
	}
}

// Close stops accepting tasks, lets queued ones finish and waits for the
// workers. When ctx ends first the remaining tasks are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.closeMu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err() //nolint:wrapcheck // context error passthrough
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(n, j)
	}
}

func (q *Queue) run(n int, j job) {
	ctx := q.ctx
	if q.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.TaskTimeout)
		defer cancel()
	}
	q.update(j.id, func(s *Snapshot) { s.Status = StatusProgress })
	report := func(progress string) {
		q.update(j.id, func(s *Snapshot) { s.Progress = progress })
	}

	start := time.Now()
	result, err := q.call(ctx, j.fn, report)
	q.update(j.id, func(s *Snapshot) {
		s.Result = result
		if err != nil {
			s.Status = StatusFailure
			s.Error = err.Error()
			return
		}
		s.Status = StatusSuccess
	})
	if err != nil {
		q.logger.Warn("❌ Task %s failed on worker %d after %.3gs: %v", j.id, n, time.Since(start).Seconds(), err)
		return
	}
	q.logger.Debug("✅ Task %s finished on worker %d in %.3gs", j.id, n, time.Since(start).Seconds())
}

// call runs fn and turns a panic into a task failure.
func (q *Queue) call(ctx context.Context, fn Func, report func(string)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (q *Queue) update(id string, apply func(*Snapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.tasks[id]; ok {
		apply(s)
		s.UpdatedAt = q.now()
	}
}

// sweep drops finished tasks past retention. Caller holds mu.
func (q *Queue) sweep(now time.Time) {
	for id, s := range q.tasks {
		if s.Done() && now.Sub(s.UpdatedAt) > q.opts.Retention {
			delete(q.tasks, id)
		}
	}
}
