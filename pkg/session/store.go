package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"proxie/pkg/config"
	"proxie/pkg/logx"
	"proxie/pkg/persistence"
)

// Store persists sessions between turns.
//
// Get returns ErrNotFound for unknown or expired ids. When stored data cannot
// be decoded Get returns a fresh session for the id together with an error
// wrapping ErrCorrupt.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Health(ctx context.Context) error
}

// Load returns the stored session or a fresh one. Load failures are logged
// and never returned; a fresh session is the recovery.
func Load(ctx context.Context, store Store, id string) *Session {
	if id == "" {
		return New("")
	}
	s, err := store.Get(ctx, id)
	switch {
	case err == nil:
		return s
	case errors.Is(err, ErrNotFound):
		return New(id)
	case errors.Is(err, ErrCorrupt):
		logx.FromContext(ctx, "session").Error("⚠️ session %s unreadable, starting fresh: %v", id, err)
	default:
		logx.FromContext(ctx, "session").Error("⚠️ session %s load failed, starting fresh: %v", id, err)
	}
	return New(id)
}

func recoverCorrupt(id string, err error) (*Session, error) {
	return New(id), fmt.Errorf("session %s: %w", id, err)
}

// SQLiteStore keeps sessions in the chat_sessions table.
type SQLiteStore struct {
	ops *persistence.DatabaseOperations
	now func() time.Time
	ttl time.Duration
}

// NewSQLiteStore creates a store over an opened database. ttl <= 0 keeps
// sessions forever.
func NewSQLiteStore(ops *persistence.DatabaseOperations, ttl time.Duration) *SQLiteStore {
	return &SQLiteStore{ops: ops, ttl: ttl, now: time.Now}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row, err := s.ops.GetSession(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess, err := Decode([]byte(row.Data))
	if err != nil {
		return recoverCorrupt(id, err)
	}
	return sess, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	now := s.now().UTC()
	sess.UpdatedAt = now
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	row := &persistence.SessionRow{ID: sess.ID, Data: string(data), UpdatedAt: now}
	if s.ttl > 0 {
		row.ExpiresAt = now.Add(s.ttl)
	}
	return s.ops.UpsertSession(ctx, row) //nolint:wrapcheck // already wrapped by persistence
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.ops.DeleteSession(ctx, id) //nolint:wrapcheck // already wrapped by persistence
}

// Health implements Store.
func (s *SQLiteStore) Health(ctx context.Context) error {
	if err := s.ops.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("session database: %w", err)
	}
	return nil
}

// Purge removes expired sessions.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	return s.ops.PurgeExpiredSessions(ctx) //nolint:wrapcheck // already wrapped by persistence
}

type memoryRecord struct {
	expires time.Time
	data    []byte
}

// MemoryStore keeps encoded sessions in process memory.
type MemoryStore struct {
	records map[string]memoryRecord
	now     func() time.Time
	ttl     time.Duration
	mu      sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord), ttl: ttl, now: time.Now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if ok && !rec.expires.IsZero() && !m.now().Before(rec.expires) {
		delete(m.records, id)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess, err := Decode(rec.data)
	if err != nil {
		return recoverCorrupt(id, err)
	}
	return sess, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, sess *Session) error {
	now := m.now().UTC()
	sess.UpdatedAt = now
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	rec := memoryRecord{data: data}
	if m.ttl > 0 {
		rec.expires = now.Add(m.ttl)
	}
	m.mu.Lock()
	m.records[sess.ID] = rec
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Health implements Store.
func (m *MemoryStore) Health(context.Context) error { return nil }

// putRaw stores undecoded bytes; tests use it to simulate corruption.
func (m *MemoryStore) putRaw(id string, data []byte) {
	m.mu.Lock()
	m.records[id] = memoryRecord{data: data}
	m.mu.Unlock()
}

// NewStore builds the store selected by cfg. ops is required for the sqlite
// backend.
func NewStore(cfg config.SessionsConfig, ops *persistence.DatabaseOperations) (Store, error) {
	switch cfg.Backend {
	case config.SessionBackendMemory:
		return NewMemoryStore(cfg.TTL.Std()), nil
	case config.SessionBackendFile:
		fs, err := NewFileStore(cfg.Path, cfg.TTL.Std())
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.SessionBackendSQLite, "":
		if ops == nil {
			return nil, fmt.Errorf("sqlite session backend needs a database")
		}
		return NewSQLiteStore(ops, cfg.TTL.Std()), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
}
