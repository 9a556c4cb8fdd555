package persistence

import (
	"context"
	"fmt"
	"sync"

	"proxie/pkg/logx"
)

// Operation names a write the worker can perform.
type Operation string

// Worker operations. Usage rows are written synchronously by the ledger
// because budget checks read them back immediately.
const (
	OpInsertInteraction Operation = "insert_interaction"
	OpUpsertMemory      Operation = "upsert_memory"
	opBarrier           Operation = "barrier"
)

// Request is a write sent to the Worker. Response, when set, receives the
// result; nil means fire-and-forget.
type Request struct {
	Data      any
	Response  chan<- error
	Operation Operation
}

// Worker applies writes in order on one goroutine so callers on the hot path
// never wait for SQLite.
type Worker struct {
	ops    *DatabaseOperations
	logger *logx.Logger
	ch     chan *Request
	done   chan struct{}
	once   sync.Once
}

// NewWorker starts a worker with a queue of the given size.
func NewWorker(ops *DatabaseOperations, queue int) *Worker {
	if queue <= 0 {
		queue = 256
	}
	w := &Worker{
		ops:    ops,
		logger: logx.NewLogger("persistence"),
		ch:     make(chan *Request, queue),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for req := range w.ch {
		err := w.apply(req)
		if err != nil {
			w.logger.Warn("persistence %s failed: %v", req.Operation, err)
		}
		if req.Response != nil {
			req.Response <- err
		}
	}
}

func (w *Worker) apply(req *Request) error {
	ctx := context.Background()
	switch req.Operation {
	case opBarrier:
		return nil
	case OpInsertInteraction:
		row, ok := req.Data.(*InteractionRow)
		if !ok {
			return fmt.Errorf("%s: unexpected payload %T", req.Operation, req.Data)
		}
		return w.ops.InsertInteraction(ctx, row)
	case OpUpsertMemory:
		row, ok := req.Data.(*MemoryRow)
		if !ok {
			return fmt.Errorf("%s: unexpected payload %T", req.Operation, req.Data)
		}
		return w.ops.UpsertMemory(ctx, row)
	default:
		return fmt.Errorf("unknown operation %q", req.Operation)
	}
}

// Submit queues a write. It blocks only when the queue is full.
func (w *Worker) Submit(req *Request) {
	if req == nil {
		return
	}
	w.ch <- req
}

// PersistInteraction queues an interaction row (fire-and-forget).
func (w *Worker) PersistInteraction(row *InteractionRow) {
	if row == nil {
		return
	}
	w.Submit(&Request{Operation: OpInsertInteraction, Data: row})
}

// Flush waits until every write queued before it has been applied.
func (w *Worker) Flush() {
	done := make(chan error, 1)
	w.Submit(&Request{Operation: opBarrier, Response: done})
	<-done
}

// Close drains the queue and stops the worker.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.ch)
		<-w.done
	})
}
