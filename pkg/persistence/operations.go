package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a row does not exist or has expired.
var ErrNotFound = errors.New("not found")

// DatabaseOperations provides the typed queries used by the stores.
// It is safe for concurrent use; *sql.DB serializes access.
type DatabaseOperations struct {
	db  *sql.DB
	now func() time.Time
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db, now: time.Now}
}

// DB returns the underlying connection.
func (ops *DatabaseOperations) DB() *sql.DB { return ops.db }

func expiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatTime(t)
}

// --- sessions ---

// UpsertSession inserts or replaces a session row.
func (ops *DatabaseOperations) UpsertSession(ctx context.Context, row *SessionRow) error {
	query := `
		INSERT INTO chat_sessions (id, data, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`
	_, err := ops.db.ExecContext(ctx, query, row.ID, row.Data, FormatTime(row.UpdatedAt), expiry(row.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", row.ID, err)
	}
	return nil
}

// GetSession loads a session row. Expired rows are deleted and reported as
// ErrNotFound.
func (ops *DatabaseOperations) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	var row SessionRow
	var updated, expires string
	err := ops.db.QueryRowContext(ctx,
		`SELECT id, data, updated_at, expires_at FROM chat_sessions WHERE id = ?`, id,
	).Scan(&row.ID, &row.Data, &updated, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if row.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	if row.ExpiresAt, err = ParseTime(expires); err != nil {
		return nil, err
	}
	if !row.ExpiresAt.IsZero() && !ops.now().Before(row.ExpiresAt) {
		if delErr := ops.DeleteSession(ctx, id); delErr != nil {
			return nil, delErr
		}
		return nil, ErrNotFound
	}
	return &row, nil
}

// DeleteSession removes a session row. Deleting a missing row is not an error.
func (ops *DatabaseOperations) DeleteSession(ctx context.Context, id string) error {
	if _, err := ops.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// PurgeExpiredSessions deletes every expired session and returns the count.
func (ops *DatabaseOperations) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := ops.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE expires_at != '' AND expires_at <= ?`, FormatTime(ops.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- usage ---

// InsertUsage appends a usage row.
func (ops *DatabaseOperations) InsertUsage(ctx context.Context, row *UsageRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = ops.now()
	}
	res, err := ops.db.ExecContext(ctx, `
		INSERT INTO llm_usage (provider, model, prompt_tokens, completion_tokens, user_id, session_id, feature, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Provider, row.Model, row.PromptTokens, row.CompletionTokens,
		row.UserID, row.SessionID, row.Feature, row.CostUSD, FormatTime(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

func usageWhere(f UsageFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, FormatTime(f.Since))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SumUsage aggregates usage rows matching f.
func (ops *DatabaseOperations) SumUsage(ctx context.Context, f UsageFilter) (UsageTotals, error) {
	where, args := usageWhere(f)
	var totals UsageTotals
	err := ops.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost_usd), 0.0)
		FROM llm_usage`+where, args...,
	).Scan(&totals.Calls, &totals.PromptTokens, &totals.CompletionTokens, &totals.CostUSD)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	return totals, nil
}

// QueryUsage lists usage rows matching f, newest first.
func (ops *DatabaseOperations) QueryUsage(ctx context.Context, f UsageFilter) ([]*UsageRow, error) {
	where, args := usageWhere(f)
	query := `SELECT id, provider, model, prompt_tokens, completion_tokens, user_id, session_id, feature, cost_usd, created_at
		FROM llm_usage` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := ops.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*UsageRow
	for rows.Next() {
		var row UsageRow
		var created string
		if err := rows.Scan(&row.ID, &row.Provider, &row.Model, &row.PromptTokens, &row.CompletionTokens,
			&row.UserID, &row.SessionID, &row.Feature, &row.CostUSD, &created); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		if row.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage rows: %w", err)
	}
	return out, nil
}

// --- cache ---

// GetCacheEntry returns a live cache entry, or ErrNotFound.
func (ops *DatabaseOperations) GetCacheEntry(ctx context.Context, key string) (*CacheRow, error) {
	var row CacheRow
	var created, expires string
	err := ops.db.QueryRowContext(ctx,
		`SELECT key, value, created_at, expires_at FROM llm_cache WHERE key = ?`, key,
	).Scan(&row.Key, &row.Value, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if row.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	if row.ExpiresAt, err = ParseTime(expires); err != nil {
		return nil, err
	}
	if !row.ExpiresAt.IsZero() && !ops.now().Before(row.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &row, nil
}

// PutCacheEntry stores or replaces a cache entry.
func (ops *DatabaseOperations) PutCacheEntry(ctx context.Context, row *CacheRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = ops.now()
	}
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO llm_cache (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		row.Key, row.Value, FormatTime(row.CreatedAt), expiry(row.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// DeleteCacheByPrefix removes entries whose key starts with prefix. An empty
// prefix clears the cache.
func (ops *DatabaseOperations) DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	res, err := ops.db.ExecContext(ctx, `DELETE FROM llm_cache WHERE key LIKE ? ESCAPE '\'`, escaped+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpiredCache deletes expired entries.
func (ops *DatabaseOperations) PurgeExpiredCache(ctx context.Context) (int64, error) {
	res, err := ops.db.ExecContext(ctx,
		`DELETE FROM llm_cache WHERE expires_at != '' AND expires_at <= ?`, FormatTime(ops.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- memory ---

func memoryTable(kind string) (table, idColumn string, err error) {
	switch kind {
	case SubjectConsumer:
		return "consumer_memory", "consumer_id", nil
	case SubjectProvider:
		return "provider_memory", "provider_id", nil
	}
	return "", "", fmt.Errorf("unknown memory kind %q", kind)
}

// GetMemory loads the memory of a subject, or ErrNotFound.
func (ops *DatabaseOperations) GetMemory(ctx context.Context, kind, id string) (*MemoryRow, error) {
	table, idCol, err := memoryTable(kind)
	if err != nil {
		return nil, err
	}
	row := MemoryRow{Kind: kind}
	var updated string
	err = ops.db.QueryRowContext(ctx,
		`SELECT `+idCol+`, data, embedding, updated_at FROM `+table+` WHERE `+idCol+` = ?`, id, //nolint:gosec // table names are constants
	).Scan(&row.SubjectID, &row.Data, &row.Embedding, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s memory %s: %w", kind, id, err)
	}
	if row.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertMemory stores the memory of a subject.
func (ops *DatabaseOperations) UpsertMemory(ctx context.Context, row *MemoryRow) error {
	table, idCol, err := memoryTable(row.Kind)
	if err != nil {
		return err
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = ops.now()
	}
	query := `INSERT INTO ` + table + ` (` + idCol + `, data, embedding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(` + idCol + `) DO UPDATE SET
			data = excluded.data,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`
	if _, err := ops.db.ExecContext(ctx, query, row.SubjectID, row.Data, row.Embedding, FormatTime(row.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to upsert %s memory %s: %w", row.Kind, row.SubjectID, err)
	}
	return nil
}

// InsertInteraction appends an interaction row.
func (ops *DatabaseOperations) InsertInteraction(ctx context.Context, row *InteractionRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = ops.now()
	}
	if row.Data == "" {
		row.Data = "{}"
	}
	res, err := ops.db.ExecContext(ctx, `
		INSERT INTO interactions (subject_kind, subject_id, session_id, intent, outcome, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Kind, row.SubjectID, row.SessionID, row.Intent, row.Outcome, row.Data, FormatTime(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

// RecentInteractions returns up to limit interactions of a subject, newest first.
func (ops *DatabaseOperations) RecentInteractions(ctx context.Context, kind, id string, limit int) ([]*InteractionRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ops.db.QueryContext(ctx, `
		SELECT id, subject_kind, subject_id, session_id, intent, outcome, data, created_at
		FROM interactions WHERE subject_kind = ? AND subject_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, kind, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*InteractionRow
	for rows.Next() {
		var row InteractionRow
		var created string
		if err := rows.Scan(&row.ID, &row.Kind, &row.SubjectID, &row.SessionID, &row.Intent, &row.Outcome, &row.Data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if row.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction rows: %w", err)
	}
	return out, nil
}
