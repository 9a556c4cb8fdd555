// Package persistence provides SQLite-based storage shared by the session
// store, the usage ledger, the completion cache and the memory service.
package persistence

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"proxie/pkg/logx"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeFormat is fixed width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in the stored timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// ParseTime parses a stored timestamp. The zero time is returned for empty input.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		path = ":memory:"
	}
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&"))
}

// Open opens the database at path, applies migrations and configures the
// pool for SQLite's single writer. Pass MemoryPath for a throwaway database.
func Open(path string) (*sql.DB, error) {
	logger := logx.NewLogger("persistence")

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("📦 Database initialized: %s", path)
	return db, nil
}

// Health pings the database.
func Health(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
