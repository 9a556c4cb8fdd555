package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proxie/pkg/logx"
)

type fileEntry struct {
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
	Data      json.RawMessage `json:"data"`
}

// FileStore keeps every session in one JSON file. Writes go to a temp file
// that is renamed over the original.
type FileStore struct {
	entries map[string]fileEntry
	now     func() time.Time
	logger  *logx.Logger
	path    string
	ttl     time.Duration
	mu      sync.Mutex
}

// NewFileStore opens or creates the store file at path. An unreadable file
// is logged and replaced on the next save.
func NewFileStore(path string, ttl time.Duration) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory for %s: %w", path, err)
	}
	fs := &FileStore{
		entries: make(map[string]fileEntry),
		now:     time.Now,
		logger:  logx.NewLogger("session-file"),
		path:    path,
		ttl:     ttl,
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.entries); err != nil {
			fs.logger.Error("session file %s corrupt, starting empty: %v", path, err)
			fs.entries = make(map[string]fileEntry)
		}
	}
	return fs, nil
}

func (f *FileStore) expired(e fileEntry) bool {
	return !e.ExpiresAt.IsZero() && !f.now().Before(e.ExpiresAt)
}

// Get implements Store.
func (f *FileStore) Get(_ context.Context, id string) (*Session, error) {
	f.mu.Lock()
	e, ok := f.entries[id]
	if ok && f.expired(e) {
		delete(f.entries, id)
		ok = false
	}
	f.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess, err := Decode(e.Data)
	if err != nil {
		return recoverCorrupt(id, err)
	}
	return sess, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, sess *Session) error {
	now := f.now().UTC()
	sess.UpdatedAt = now
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	e := fileEntry{UpdatedAt: now, Data: data}
	if f.ttl > 0 {
		e.ExpiresAt = now.Add(f.ttl)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[sess.ID] = e
	return f.flushLocked()
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return nil
	}
	delete(f.entries, id)
	return f.flushLocked()
}

// Health implements Store.
func (f *FileStore) Health(context.Context) error {
	dir := filepath.Dir(f.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("session directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("session directory %s is not a directory", dir)
	}
	return nil
}

func (f *FileStore) flushLocked() error {
	for id, e := range f.entries {
		if f.expired(e) {
			delete(f.entries, id)
		}
	}
	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file %s: %w", f.path, err)
	}
	return nil
}
