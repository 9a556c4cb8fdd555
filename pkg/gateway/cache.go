package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"proxie/pkg/persistence"
)

// Cache stores serialized completions by key.
type Cache interface {
	// Get returns the entry for key. ok is false on miss or expiry.
	Get(ctx context.Context, key string) (c *Completion, ok bool, err error)
	Set(ctx context.Context, key string, c *Completion, ttl time.Duration) error
	// Invalidate removes every entry whose key starts with prefix.
	Invalidate(ctx context.Context, prefix string) (int, error)
}

func encodeCompletion(c *Completion) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode completion: %w", err)
	}
	return string(b), nil
}

func decodeCompletion(s string) (*Completion, error) {
	var c Completion
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("decode cached completion: %w", err)
	}
	return &c, nil
}

type memoryEntry struct {
	expires time.Time
	value   string
}

// MemoryCache is a process-local cache.
type MemoryCache struct {
	entries map[string]memoryEntry
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) (*Completion, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	c, err := decodeCompletion(e.value)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Set implements Cache.
func (m *MemoryCache) Set(_ context.Context, key string, c *Completion, ttl time.Duration) error {
	value, err := encodeCompletion(c)
	if err != nil {
		return err
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Invalidate implements Cache.
func (m *MemoryCache) Invalidate(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// SQLiteCache stores entries in the llm_cache table so they survive restarts.
type SQLiteCache struct {
	ops *persistence.DatabaseOperations
	now func() time.Time
}

// NewSQLiteCache creates a cache over an opened database.
func NewSQLiteCache(ops *persistence.DatabaseOperations) *SQLiteCache {
	return &SQLiteCache{ops: ops, now: time.Now}
}

// Get implements Cache.
func (s *SQLiteCache) Get(ctx context.Context, key string) (*Completion, bool, error) {
	row, err := s.ops.GetCacheEntry(ctx, key)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err //nolint:wrapcheck // already wrapped by persistence
	}
	c, err := decodeCompletion(row.Value)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Set implements Cache.
func (s *SQLiteCache) Set(ctx context.Context, key string, c *Completion, ttl time.Duration) error {
	value, err := encodeCompletion(c)
	if err != nil {
		return err
	}
	row := &persistence.CacheRow{Key: key, Value: value, CreatedAt: s.now()}
	if ttl > 0 {
		row.ExpiresAt = row.CreatedAt.Add(ttl)
	}
	return s.ops.PutCacheEntry(ctx, row) //nolint:wrapcheck // already wrapped by persistence
}

// Invalidate implements Cache.
func (s *SQLiteCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	n, err := s.ops.DeleteCacheByPrefix(ctx, prefix)
	return int(n), err //nolint:wrapcheck // already wrapped by persistence
}

// Purge deletes expired entries.
func (s *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	return s.ops.PurgeExpiredCache(ctx) //nolint:wrapcheck // already wrapped by persistence
}
