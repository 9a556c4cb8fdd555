package persistence

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) (*sql.DB, *DatabaseOperations) {
	t.Helper()
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, NewDatabaseOperations(db)
}

func TestOpenAppliesSchema(t *testing.T) {
	db, _ := setupTestDB(t)

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, CurrentSchemaVersion)
	}
	if err := Health(db); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestOpenFileDatabaseIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxie.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ops := NewDatabaseOperations(db)
	if err := ops.UpsertSession(ctx, &SessionRow{ID: "s1", Data: `{"id":"s1"}`, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()
	row, err := NewDatabaseOperations(db).GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
	if row.Data != `{"id":"s1"}` {
		t.Errorf("data = %q", row.Data)
	}
}

func TestSessionExpiry(t *testing.T) {
	_, ops := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ops.now = func() time.Time { return now }

	if err := ops.UpsertSession(ctx, &SessionRow{ID: "live", Data: "{}", UpdatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := ops.UpsertSession(ctx, &SessionRow{ID: "old", Data: "{}", UpdatedAt: now, ExpiresAt: now.Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}

	if _, err := ops.GetSession(ctx, "live"); err != nil {
		t.Errorf("live session: %v", err)
	}
	if _, err := ops.GetSession(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session err = %v, want ErrNotFound", err)
	}

	now = now.Add(2 * time.Hour)
	n, err := ops.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestUsageAggregation(t *testing.T) {
	_, ops := setupTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []*UsageRow{
		{Provider: "google", Model: "gemini-2.0-flash", UserID: "u1", SessionID: "s1", PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.25, CreatedAt: day.Add(-time.Hour)},
		{Provider: "google", Model: "gemini-2.0-flash", UserID: "u1", SessionID: "s1", PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.5, CreatedAt: day.Add(time.Hour)},
		{Provider: "anthropic", Model: "claude-sonnet-4-5", UserID: "u2", SessionID: "s2", PromptTokens: 1, CompletionTokens: 1, CostUSD: 1, CreatedAt: day.Add(2 * time.Hour)},
	}
	for _, r := range rows {
		if err := ops.InsertUsage(ctx, r); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}

	session, err := ops.SumUsage(ctx, UsageFilter{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if session.Calls != 2 || session.PromptTokens != 110 || session.CostUSD != 0.75 {
		t.Errorf("session totals = %+v", session)
	}

	today, err := ops.SumUsage(ctx, UsageFilter{UserID: "u1", Since: day})
	if err != nil {
		t.Fatal(err)
	}
	if today.Calls != 1 || today.CostUSD != 0.5 {
		t.Errorf("daily totals = %+v", today)
	}

	listed, err := ops.QueryUsage(ctx, UsageFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 || listed[0].Model != "claude-sonnet-4-5" {
		t.Errorf("expected newest first, got %d rows", len(listed))
	}
}

func TestCacheEntries(t *testing.T) {
	_, ops := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"llm_cache:aa", "llm_cache:ab", "other_x"} {
		if err := ops.PutCacheEntry(ctx, &CacheRow{Key: key, Value: "v-" + key, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ops.GetCacheEntry(ctx, "llm_cache:aa")
	if err != nil || got.Value != "v-llm_cache:aa" {
		t.Fatalf("GetCacheEntry = %+v, %v", got, err)
	}

	n, err := ops.DeleteCacheByPrefix(ctx, "llm_cache:")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invalidated %d, want 2", n)
	}
	if _, err := ops.GetCacheEntry(ctx, "other_x"); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}

	ops.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := ops.GetCacheEntry(ctx, "other_x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry err = %v", err)
	}
}

func TestMemoryAndInteractions(t *testing.T) {
	_, ops := setupTestDB(t)
	ctx := context.Background()

	if _, err := ops.GetMemory(ctx, SubjectConsumer, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing memory err = %v", err)
	}
	row := &MemoryRow{Kind: SubjectConsumer, SubjectID: "c1", Data: `{"total_bookings":1}`, Embedding: "[0.1]"}
	if err := ops.UpsertMemory(ctx, row); err != nil {
		t.Fatal(err)
	}
	got, err := ops.GetMemory(ctx, SubjectConsumer, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Data != row.Data || got.Embedding != "[0.1]" {
		t.Errorf("memory round trip = %+v", got)
	}
	if _, err := ops.GetMemory(ctx, "robot", "x"); err == nil {
		t.Error("expected error for unknown kind")
	}

	w := NewWorker(ops, 4)
	w.PersistInteraction(&InteractionRow{Kind: SubjectConsumer, SubjectID: "c1", Intent: "service_request", Outcome: "request_created"})
	w.PersistInteraction(&InteractionRow{Kind: SubjectConsumer, SubjectID: "c1", Intent: "booking", Outcome: "booking_confirmed"})
	w.Flush()
	w.Close()

	recent, err := ops.RecentInteractions(ctx, SubjectConsumer, "c1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d interactions, want 2", len(recent))
	}
	if recent[0].Outcome != "booking_confirmed" {
		t.Errorf("newest interaction = %q", recent[0].Outcome)
	}
}

func TestParseTime(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	got, err := ParseTime(FormatTime(ts))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("ParseTime = %v, want %v", got, ts)
	}
	if zero, _ := ParseTime(""); !zero.IsZero() {
		t.Error("empty input should parse to zero time")
	}
}
