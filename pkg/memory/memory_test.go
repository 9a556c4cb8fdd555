package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/marketplace"
	"proxie/pkg/persistence"
	"proxie/pkg/tools"
)

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float64{0.25, 0.5}, nil
}

func TestConsumerMemoryIsCreatedLazily(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)

	cc, err := svc.GetConsumerContext(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", cc.Memory.ConsumerID)
	assert.Equal(t, NoHistorySummary, cc.Summary)

	_, err = store.GetMemory(context.Background(), persistence.SubjectConsumer, "c1")
	assert.NoError(t, err, "a row is written on first access")
}

func TestUpdateConsumerMemoryLearnsPreferences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	emb := &fakeEmbedder{}
	svc := NewService(store, nil, emb)

	err := svc.UpdateConsumerMemory(ctx, "c1", Interaction{
		SessionID: "s1",
		Intent:    "request_service",
		Tools: []ToolUse{
			{Name: tools.ToolUpdatePreferences, OK: true, Args: map[string]any{
				"budget_min": 60.0, "budget_max": 80.0, "timing": "weekends", "location": "Brooklyn",
			}},
			{Name: tools.ToolUpdateRequestDetails, OK: false, Args: map[string]any{"location": "Ignored"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, emb.texts, 1)
	assert.Equal(t, "Budget: 60-80, Location: Brooklyn, Timing: weekends", emb.texts[0])

	cc, err := svc.GetConsumerContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Budget preference: $60-$80. Usually requests services in Brooklyn", cc.Summary)
	assert.Equal(t, []float64{0.25, 0.5}, cc.Memory.Embedding)
	assert.Equal(t, "weekends", cc.Memory.PreferredTiming)

	logged := store.Interactions(persistence.SubjectConsumer, "c1")
	require.Len(t, logged, 1)
	assert.Equal(t, "s1", logged[0].SessionID)
	assert.Contains(t, logged[0].Data, tools.ToolUpdatePreferences)

	// Unchanged preferences do not re-embed.
	require.NoError(t, svc.UpdateConsumerMemory(ctx, "c1", Interaction{SessionID: "s1"}))
	assert.Len(t, emb.texts, 1)
}

func TestRequestDetailsSetHints(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil, nil)

	require.NoError(t, svc.UpdateConsumerMemory(ctx, "c1", Interaction{Tools: []ToolUse{
		{Name: tools.ToolUpdateRequestDetails, OK: true, Args: map[string]any{"budget": "around $90", "location": "Queens"}},
	}}))
	cc, err := svc.GetConsumerContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "around $90", cc.Memory.LearnedPreferences["last_budget_hint"])
	assert.Equal(t, "Queens", cc.Memory.LastLocation())
	assert.Nil(t, cc.Memory.PreferredBudgetMax)

	require.NoError(t, svc.UpdateConsumerMemory(ctx, "c1", Interaction{Tools: []ToolUse{
		{Name: tools.ToolCreateServiceRequest, OK: true, Args: map[string]any{"budget_max": 120.0, "location": "Harlem"}},
	}}))
	cc, err = svc.GetConsumerContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 120.0, cc.Memory.LearnedPreferences["last_budget_hint"])
	assert.Equal(t, "Harlem", cc.Memory.LastLocation())
}

func TestEmbeddingFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{err: errors.New("rate limited")}
	svc := NewService(NewMemoryStore(), nil, emb)

	err := svc.UpdateConsumerMemory(ctx, "c1", Interaction{Tools: []ToolUse{
		{Name: tools.ToolUpdatePreferences, OK: true, Args: map[string]any{"timing": "mornings"}},
	}})
	require.NoError(t, err)
	assert.Len(t, emb.texts, 1)

	cc, err := svc.GetConsumerContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "mornings", cc.Memory.PreferredTiming)
	assert.Empty(t, cc.Memory.Embedding)
}

func TestBookingOutcomeAndHistorySummary(t *testing.T) {
	ctx := context.Background()
	cat, err := marketplace.DefaultCatalog()
	require.NoError(t, err)
	market := marketplace.NewInMemory(cat)
	p := market.AddProvider(marketplace.Provider{Name: "Bea"})
	req, err := market.CreateRequest(ctx, marketplace.NewRequest{ConsumerID: "c1", ServiceType: "haircut", Location: "Brooklyn"})
	require.NoError(t, err)
	offer, err := market.SubmitOffer(ctx, marketplace.NewOffer{RequestID: req.ID, ProviderID: p.ID, Price: 70})
	require.NoError(t, err)
	_, err = market.AcceptOffer(ctx, offer.ID, marketplace.Slot{Date: "2026-03-01", StartTime: "10:00"})
	require.NoError(t, err)

	svc := NewService(NewMemoryStore(), market, nil)
	require.NoError(t, svc.UpdateConsumerMemory(ctx, "c1", Interaction{Outcome: OutcomeBookingConfirmed}))

	cc, err := svc.GetConsumerContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, cc.Memory.TotalBookings)
	assert.Len(t, cc.RecentBookings, 1)
	assert.Len(t, cc.RecentRequests, 1)
	assert.Equal(t, "Last booking was for haircut on 2026-03-01", cc.Summary)

	pc, err := svc.GetProviderContext(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, pc.RecentOffers, 1)
}

func TestProviderFunnel(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil, nil)

	require.NoError(t, svc.UpdateProviderMemory(ctx, "p1", Interaction{Tools: []ToolUse{
		{Name: tools.ToolGetMatchingRequests, OK: true},
		{Name: tools.ToolGetLeadDetails, OK: true},
		{Name: tools.ToolGetLeadDetails, OK: true},
		{Name: tools.ToolSubmitOffer, OK: true, Args: map[string]any{"price": 65.0}},
		{Name: tools.ToolSubmitOffer, OK: false},
	}}))
	require.NoError(t, svc.UpdateProviderMemory(ctx, "p1", Interaction{Outcome: OutcomeBookingConfirmed}))

	pc, err := svc.GetProviderContext(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Performance{Leads: 2, Offers: 1, Conversion: 1}, pc.Performance)
	assert.Equal(t, 65.0, pc.Memory.LearnedPatterns["last_offer_price"])
	assert.Equal(t, "Leads received: 2. Offers sent: 1. Conversion: 100%.", pc.Summary())
}

func TestWorkerStoreRoundTrip(t *testing.T) {
	db, err := persistence.Open(persistence.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ops := persistence.NewDatabaseOperations(db)
	worker := persistence.NewWorker(ops, 16)
	t.Cleanup(worker.Close)

	ctx := context.Background()
	svc := NewService(NewWorkerStore(ops, worker), nil, &fakeEmbedder{})
	require.NoError(t, svc.UpdateConsumerMemory(ctx, "c9", Interaction{SessionID: "s9", Tools: []ToolUse{
		{Name: tools.ToolUpdatePreferences, OK: true, Args: map[string]any{"location": "Austin"}},
	}}))

	cc, err := svc.GetConsumerContext(ctx, "c9")
	require.NoError(t, err)
	assert.Equal(t, "Austin", cc.Memory.LastLocation())
	assert.Equal(t, []float64{0.25, 0.5}, cc.Memory.Embedding)

	worker.Flush()
	rows, err := ops.RecentInteractions(ctx, persistence.SubjectConsumer, "c9", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
