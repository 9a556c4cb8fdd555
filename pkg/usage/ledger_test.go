package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/persistence"
)

func ledgers(t *testing.T, limits Limits) map[string]Ledger {
	t.Helper()
	db, err := persistence.Open(persistence.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Ledger{
		"sqlite": NewSQLiteLedger(persistence.NewDatabaseOperations(db), limits),
		"memory": NewMemoryLedger(limits),
	}
}

func TestSessionBudget(t *testing.T) {
	for name, l := range ledgers(t, Limits{SessionUSD: 1.0, DailyUSD: 100}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			over, err := l.IsOverBudget(ctx, "u1", "s1")
			require.NoError(t, err)
			assert.False(t, over)

			require.NoError(t, l.Record(ctx, Record{Provider: "google", Model: "gemini-2.0-flash", SessionID: "s1", UserID: "u1", CostUSD: 0.6}))
			require.NoError(t, l.Record(ctx, Record{Provider: "google", Model: "gemini-2.0-flash", SessionID: "s1", UserID: "u1", CostUSD: 0.4}))

			over, err = l.IsOverBudget(ctx, "u1", "s1")
			require.NoError(t, err)
			assert.True(t, over, "session cost equal to the cap is over budget")

			over, err = l.IsOverBudget(ctx, "u1", "s2")
			require.NoError(t, err)
			assert.False(t, over)
		})
	}
}

func TestDailyBudgetIgnoresYesterday(t *testing.T) {
	for name, l := range ledgers(t, Limits{DailyUSD: 1.0}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			yesterday := time.Now().UTC().Add(-36 * time.Hour)
			require.NoError(t, l.Record(ctx, Record{Provider: "x", Model: "m", UserID: "u1", CostUSD: 5, CreatedAt: yesterday}))

			over, err := l.IsOverBudget(ctx, "u1", "")
			require.NoError(t, err)
			assert.False(t, over)

			require.NoError(t, l.Record(ctx, Record{Provider: "x", Model: "m", UserID: "u1", CostUSD: 1}))
			over, err = l.IsOverBudget(ctx, "u1", "")
			require.NoError(t, err)
			assert.True(t, over)
		})
	}
}

func TestNoIdentityIsNeverOverBudget(t *testing.T) {
	l := NewMemoryLedger(Limits{SessionUSD: 0.01, DailyUSD: 0.01})
	require.NoError(t, l.Record(context.Background(), Record{CostUSD: 10}))
	over, err := l.IsOverBudget(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, over)
}

func TestRecordsAndTotals(t *testing.T) {
	for name, l := range ledgers(t, Limits{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, l.Record(ctx, Record{Provider: "google", Model: "a", SessionID: "s", PromptTokens: 10, CompletionTokens: 10, CostUSD: 0.1, CreatedAt: base}))
			require.NoError(t, l.Record(ctx, Record{Provider: "google", Model: "b", SessionID: "s", PromptTokens: 5, CompletionTokens: 1, CostUSD: 0.2, CreatedAt: base.Add(time.Minute)}))

			totals, err := l.Totals(ctx, Filter{SessionID: "s"})
			require.NoError(t, err)
			assert.Equal(t, 2, totals.Calls)
			assert.Equal(t, 15, totals.PromptTokens)
			assert.InDelta(t, 0.3, totals.CostUSD, 1e-9)

			recs, err := l.Records(ctx, Filter{SessionID: "s"})
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "b", recs[0].Model)
			assert.Equal(t, 20, recs[1].TotalTokens())
			require.NoError(t, l.Health(ctx))
		})
	}
}
