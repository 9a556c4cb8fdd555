// Package usage keeps the append-only ledger of billed model calls and
// enforces the per-session and per-user daily budgets.
package usage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"proxie/pkg/logx"
	"proxie/pkg/persistence"
)

// Record is one billed model call.
type Record struct {
	CreatedAt        time.Time `json:"created_at"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	UserID           string    `json:"user_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Feature          string    `json:"feature,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
}

// TotalTokens returns prompt plus completion tokens.
func (r Record) TotalTokens() int { return r.PromptTokens + r.CompletionTokens }

// Filter selects records. Empty fields match everything.
type Filter = persistence.UsageFilter

// Totals aggregates records.
type Totals = persistence.UsageTotals

// Limits are budget caps in USD. A cap of zero or less is disabled.
type Limits struct {
	SessionUSD float64
	DailyUSD   float64
}

// Ledger records usage and answers budget questions.
type Ledger interface {
	Record(ctx context.Context, rec Record) error
	IsOverBudget(ctx context.Context, userID, sessionID string) (bool, error)
	Totals(ctx context.Context, f Filter) (Totals, error)
	Records(ctx context.Context, f Filter) ([]Record, error)
	Health(ctx context.Context) error
}

// startOfDay returns UTC midnight of t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// overBudget applies the budget rule to the looked-up totals. The session cap
// is checked before the daily user cap; no identity means no budget.
func overBudget(ctx context.Context, l Ledger, limits Limits, now time.Time, userID, sessionID string) (bool, error) {
	logger := logx.FromContext(ctx, "usage")
	if sessionID != "" && limits.SessionUSD > 0 {
		t, err := l.Totals(ctx, Filter{SessionID: sessionID})
		if err != nil {
			return false, err
		}
		if t.CostUSD >= limits.SessionUSD {
			logger.Warn("💸 session budget exceeded: session=%s cost=$%.4f limit=$%.2f", sessionID, t.CostUSD, limits.SessionUSD)
			return true, nil
		}
	}
	if userID != "" && limits.DailyUSD > 0 {
		t, err := l.Totals(ctx, Filter{UserID: userID, Since: startOfDay(now)})
		if err != nil {
			return false, err
		}
		if t.CostUSD >= limits.DailyUSD {
			logger.Warn("💸 daily budget exceeded: user=%s cost=$%.4f limit=$%.2f", userID, t.CostUSD, limits.DailyUSD)
			return true, nil
		}
	}
	return false, nil
}

// SQLiteLedger stores records in the llm_usage table.
type SQLiteLedger struct {
	ops    *persistence.DatabaseOperations
	now    func() time.Time
	limits Limits
}

// NewSQLiteLedger creates a ledger over an opened database.
func NewSQLiteLedger(ops *persistence.DatabaseOperations, limits Limits) *SQLiteLedger {
	return &SQLiteLedger{ops: ops, limits: limits, now: time.Now}
}

// Record implements Ledger.
func (l *SQLiteLedger) Record(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	row := &persistence.UsageRow{
		Provider:         rec.Provider,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		UserID:           rec.UserID,
		SessionID:        rec.SessionID,
		Feature:          rec.Feature,
		CostUSD:          rec.CostUSD,
		CreatedAt:        rec.CreatedAt,
	}
	if err := l.ops.InsertUsage(ctx, row); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	logx.Debug(ctx, "usage", "recorded %s/%s %d tokens $%.6f", rec.Provider, rec.Model, rec.TotalTokens(), rec.CostUSD)
	return nil
}

// IsOverBudget implements Ledger.
func (l *SQLiteLedger) IsOverBudget(ctx context.Context, userID, sessionID string) (bool, error) {
	return overBudget(ctx, l, l.limits, l.now(), userID, sessionID)
}

// Totals implements Ledger.
func (l *SQLiteLedger) Totals(ctx context.Context, f Filter) (Totals, error) {
	t, err := l.ops.SumUsage(ctx, f)
	if err != nil {
		return Totals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// Records implements Ledger.
func (l *SQLiteLedger) Records(ctx context.Context, f Filter) ([]Record, error) {
	rows, err := l.ops.QueryUsage(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("usage records: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{
			Provider:         r.Provider,
			Model:            r.Model,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			UserID:           r.UserID,
			SessionID:        r.SessionID,
			Feature:          r.Feature,
			CostUSD:          r.CostUSD,
			CreatedAt:        r.CreatedAt,
		})
	}
	return out, nil
}

// Health implements Ledger.
func (l *SQLiteLedger) Health(_ context.Context) error {
	return persistence.Health(l.ops.DB()) //nolint:wrapcheck // already descriptive
}

// MemoryLedger keeps records in memory. It is used by tests and mock mode.
type MemoryLedger struct {
	now     func() time.Time
	records []Record
	limits  Limits
	mu      sync.RWMutex
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(limits Limits) *MemoryLedger {
	return &MemoryLedger{limits: limits, now: time.Now}
}

// Record implements Ledger.
func (l *MemoryLedger) Record(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	l.records = append(l.records, rec)
	return nil
}

// IsOverBudget implements Ledger.
func (l *MemoryLedger) IsOverBudget(ctx context.Context, userID, sessionID string) (bool, error) {
	return overBudget(ctx, l, l.limits, l.now(), userID, sessionID)
}

func matches(r Record, f Filter) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Totals implements Ledger.
func (l *MemoryLedger) Totals(_ context.Context, f Filter) (Totals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var t Totals
	for _, r := range l.records {
		if !matches(r, f) {
			continue
		}
		t.Calls++
		t.PromptTokens += r.PromptTokens
		t.CompletionTokens += r.CompletionTokens
		t.CostUSD += r.CostUSD
	}
	return t, nil
}

// Records implements Ledger.
func (l *MemoryLedger) Records(_ context.Context, f Filter) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, r := range l.records {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Health implements Ledger.
func (l *MemoryLedger) Health(context.Context) error { return nil }
