package memory

import (
	"context"
	"sync"
	"time"

	"proxie/pkg/persistence"
)

// Store persists memory rows and interaction logs.
// *persistence.DatabaseOperations satisfies it.
type Store interface {
	GetMemory(ctx context.Context, kind, id string) (*persistence.MemoryRow, error)
	UpsertMemory(ctx context.Context, row *persistence.MemoryRow) error
	InsertInteraction(ctx context.Context, row *persistence.InteractionRow) error
}

var _ Store = (*persistence.DatabaseOperations)(nil)

// WorkerStore reads through ops and queues writes on a persistence worker.
// Reads flush the queue first so a subject never sees its own stale row.
type WorkerStore struct {
	ops    *persistence.DatabaseOperations
	worker *persistence.Worker
}

// NewWorkerStore creates a WorkerStore.
func NewWorkerStore(ops *persistence.DatabaseOperations, worker *persistence.Worker) *WorkerStore {
	return &WorkerStore{ops: ops, worker: worker}
}

// GetMemory implements Store.
func (s *WorkerStore) GetMemory(ctx context.Context, kind, id string) (*persistence.MemoryRow, error) {
	s.worker.Flush()
	return s.ops.GetMemory(ctx, kind, id)
}

// UpsertMemory implements Store. The write is applied asynchronously.
func (s *WorkerStore) UpsertMemory(_ context.Context, row *persistence.MemoryRow) error {
	copied := *row
	s.worker.Submit(&persistence.Request{Operation: persistence.OpUpsertMemory, Data: &copied})
	return nil
}

// InsertInteraction implements Store. The write is applied asynchronously.
func (s *WorkerStore) InsertInteraction(_ context.Context, row *persistence.InteractionRow) error {
	copied := *row
	s.worker.PersistInteraction(&copied)
	return nil
}

// MemoryStore is an in-process Store for tests and memory-only deployments.
type MemoryStore struct {
	rows         map[string]persistence.MemoryRow
	interactions []persistence.InteractionRow
	mu           sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]persistence.MemoryRow)}
}

func rowKey(kind, id string) string { return kind + "/" + id }

// GetMemory implements Store.
func (m *MemoryStore) GetMemory(_ context.Context, kind, id string) (*persistence.MemoryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[rowKey(kind, id)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &row, nil
}

// UpsertMemory implements Store.
func (m *MemoryStore) UpsertMemory(_ context.Context, row *persistence.MemoryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	m.rows[rowKey(row.Kind, row.SubjectID)] = *row
	return nil
}

// InsertInteraction implements Store.
func (m *MemoryStore) InsertInteraction(_ context.Context, row *persistence.InteractionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.ID = int64(len(m.interactions) + 1)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	m.interactions = append(m.interactions, *row)
	return nil
}

// Interactions returns the logged interactions of a subject, oldest first.
func (m *MemoryStore) Interactions(kind, id string) []persistence.InteractionRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []persistence.InteractionRow
	for _, row := range m.interactions {
		if row.Kind == kind && row.SubjectID == id {
			out = append(out, row)
		}
	}
	return out
}
