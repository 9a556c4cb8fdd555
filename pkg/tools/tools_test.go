package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/agent/llm"
	"proxie/pkg/marketplace"
	"proxie/pkg/session"
)

type panicTool struct{}

func (panicTool) Name() string { return "explode" }
func (panicTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: "explode", Parameters: llm.Schema{Type: "object"}}
}
func (panicTool) Exec(context.Context, Args) Result { panic("boom") }

func newTestRegistry(t *testing.T) (*Registry, *marketplace.InMemory) {
	t.Helper()
	cat, err := marketplace.DefaultCatalog()
	require.NoError(t, err)
	market := marketplace.NewInMemory(cat)
	r, err := NewDefaultRegistry(market, nil)
	require.NoError(t, err)
	return r, market
}

func decode(t *testing.T, res Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content()), &out))
	return out
}

func TestRegisterRejectsDuplicatesAndNil(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDraftOfferTool()))
	require.Error(t, r.Register(NewDraftOfferTool()))
	require.Error(t, r.Register(nil))
}

func TestExecuteErrorPaths(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	res := r.Execute(ctx, "teleport", `{}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "Unknown function: teleport", res.Message())
	assert.Equal(t, map[string]any{"error": "Unknown function: teleport"}, decode(t, res))

	res = r.Execute(ctx, ToolDraftOffer, `{not json`)
	assert.False(t, res.IsOK())

	res = r.Execute(ctx, ToolDraftOffer, `{"price": 40}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "missing required parameter: request_id", res.Message())

	res = r.Execute(ctx, ToolDraftOffer, `{"request_id": "r1", "price": -3}`)
	assert.False(t, res.IsOK())
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(panicTool{}))

	res := r.Execute(context.Background(), "explode", "")
	require.False(t, res.IsOK())
	assert.Contains(t, res.Message(), "explode")
}

func TestDefinitionsFollowRole(t *testing.T) {
	r, _ := newTestRegistry(t)

	names := func(defs []llm.ToolDefinition) []string {
		out := make([]string, 0, len(defs))
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, ConsumerTools, names(r.Definitions(session.RoleConsumer)))
	assert.Equal(t, ConsumerTools, names(r.Definitions(session.RoleGuest)))
	assert.Equal(t, ProviderTools, names(r.Definitions(session.RoleProvider)))
	assert.Equal(t, EnrollmentTools, names(r.Definitions(session.RoleEnrollment)))

	assert.True(t, r.Allowed(session.RoleProvider, ToolSubmitOffer))
	assert.False(t, r.Allowed(session.RoleConsumer, ToolSubmitOffer))
}

func TestConsumerToolsAgainstMarketplace(t *testing.T) {
	r, market := newTestRegistry(t)
	provider := market.AddProvider(marketplace.Provider{
		Name:     "Bea",
		Services: []marketplace.ProviderService{{Type: "haircut", BasePrice: 60}},
	})
	ctx := WithEnv(context.Background(), Env{ConsumerID: "c1"})

	res := r.Execute(ctx, ToolCreateServiceRequest,
		`{"service_type": "haircut", "location": "Brooklyn", "budget_min": 50, "budget_max": "$80", "hair_type": "curly"}`)
	require.True(t, res.IsOK(), res.Message())
	reqID, _ := res.Value()["request_id"].(string)
	require.NotEmpty(t, reqID)

	req, err := market.GetRequest(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ConsumerID)
	assert.Equal(t, 80.0, req.Budget.Max)
	assert.Contains(t, req.Description, "Hair type: curly.")

	res = r.Execute(ctx, ToolGetOffers, `{}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "No request ID available", res.Message())

	offer, err := market.SubmitOffer(ctx, marketplace.NewOffer{
		RequestID:  reqID,
		ProviderID: provider.ID,
		Price:      70,
		Slots:      []marketplace.Slot{{Date: "2026-03-02", StartTime: "14:00"}},
	})
	require.NoError(t, err)

	withReq := WithEnv(context.Background(), Env{ConsumerID: "c1", RequestID: reqID})
	res = r.Execute(withReq, ToolGetOffers, `{}`)
	require.True(t, res.IsOK(), res.Message())
	offers := decode(t, res)["offers"].([]any)
	require.Len(t, offers, 1)
	assert.Equal(t, offer.ID, offers[0].(map[string]any)["offer_id"])

	res = r.Execute(ctx, ToolAcceptOffer,
		`{"offer_id": "`+offer.ID+`", "slot_date": "2026-03-02", "slot_start_time": "14:00"}`)
	require.True(t, res.IsOK(), res.Message())
	assert.NotEmpty(t, res.Value()["booking_id"])

	res = r.Execute(ctx, ToolUpdatePreferences, `{"budget_max": 90, "preferences": {"hair_type": "curly"}}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Equal(t, true, res.Value()["saved"])
	assert.Equal(t, []string{"budget_max", "hair_type"}, res.Value()["updated_fields"])

	res = r.Execute(ctx, ToolGetConsumerProfile, `{}`)
	require.True(t, res.IsOK(), res.Message())

	res = r.Execute(context.Background(), ToolGetConsumerProfile, `{}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "No identity available", res.Message())
}

func TestUpdateRequestDetailsValidatesBudget(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	res := r.Execute(ctx, ToolUpdateRequestDetails, `{"budget_min": 100, "budget_max": 50}`)
	assert.False(t, res.IsOK())

	res = r.Execute(ctx, ToolUpdateRequestDetails, `{}`)
	assert.False(t, res.IsOK())

	res = r.Execute(ctx, ToolUpdateRequestDetails, `{"location": "Queens"}`)
	require.True(t, res.IsOK(), res.Message())
	details, ok := res.Value()["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Queens", details["location"])
}

func TestProviderToolsAgainstMarketplace(t *testing.T) {
	r, market := newTestRegistry(t)
	provider := market.AddProvider(marketplace.Provider{
		Name:     "Bea",
		Services: []marketplace.ProviderService{{Type: "haircut", BasePrice: 60}},
	})
	req, err := market.CreateRequest(context.Background(), marketplace.NewRequest{
		ConsumerID:  "c1",
		ServiceType: "haircut",
		Location:    "Brooklyn",
		Budget:      marketplace.Budget{Min: 40, Max: 100},
	})
	require.NoError(t, err)

	res := r.Execute(context.Background(), ToolGetMatchingRequests, `{}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "No provider ID available", res.Message())

	ctx := WithEnv(context.Background(), Env{ProviderID: provider.ID})
	res = r.Execute(ctx, ToolGetMatchingRequests, `{}`)
	require.True(t, res.IsOK(), res.Message())
	leads := decode(t, res)["requests"].([]any)
	require.Len(t, leads, 1)
	assert.Equal(t, req.ID, leads[0].(map[string]any)["id"])

	res = r.Execute(ctx, ToolGetLeadDetails, `{"request_id": "missing"}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "Request not found", res.Message())

	res = r.Execute(ctx, ToolSuggestOffer, `{"request_id": "`+req.ID+`"}`)
	require.True(t, res.IsOK(), res.Message())
	suggestion := decode(t, res)["suggestion"].(map[string]any)
	assert.Equal(t, 60.0, suggestion["recommended_price"])

	res = r.Execute(ctx, ToolDraftOffer, `{"request_id": "`+req.ID+`", "price": 65, "date": "2026-03-02", "time": "14:00"}`)
	require.True(t, res.IsOK(), res.Message())
	draft := res.Value()["offer_draft"].(map[string]any)
	assert.Equal(t, 65.0, draft["price"])
	assert.Equal(t, "14:00", draft["available_time"])

	res = r.Execute(ctx, ToolSubmitOffer, `{"request_id": "`+req.ID+`", "price": 65, "date": "2026-03-02", "time": "14:00"}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Equal(t, "submitted", res.Value()["status"])

	offers, err := market.Offers(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, provider.ID, offers[0].ProviderID)
}

func TestEnrollmentTools(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := r.Execute(context.Background(), ToolUpdateEnrollment, `{"full_name": "Ada"}`)
	require.False(t, res.IsOK())
	assert.Equal(t, "No enrollment session active", res.Message())

	ctx := WithEnv(context.Background(), Env{EnrollmentID: "enr-1"})

	res = r.Execute(ctx, ToolGetServiceCatalog, `{"category_filter": "hair"}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Len(t, decode(t, res)["categories"], 1)

	res = r.Execute(ctx, ToolUpdateEnrollment,
		`{"full_name": "Ada", "location": {"city": "Austin"}, "services": [{"service_id": "haircut", "price_min": 40}]}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Equal(t, []string{"full_name", "location", "services"}, res.Value()["updated_fields"])

	res = r.Execute(ctx, ToolGetEnrollmentSummary, `{}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Equal(t, "enr-1", res.Value()["enrollment_id"])
	assert.Equal(t, marketplace.EnrollmentDraft, res.Value()["status"])

	res = r.Execute(ctx, ToolRequestPortfolio, `{}`)
	require.True(t, res.IsOK())
	assert.Equal(t, true, res.Value()["show_portfolio"])

	res = r.Execute(ctx, ToolSubmitEnrollment, `{}`)
	require.True(t, res.IsOK(), res.Message())
	assert.Equal(t, marketplace.EnrollmentActive, res.Value()["status"])
	assert.NotEmpty(t, res.Value()["provider_id"])
}

func TestEnvelopePromotion(t *testing.T) {
	env := NewEnvelope()
	assert.Nil(t, env.Data())

	env.Add(ToolGetOffers, Fail("nope"))
	assert.Nil(t, env.Data(), "errors contribute nothing")

	env.Add(ToolGetOffers, OK(map[string]any{"offers": []any{map[string]any{"offer_id": "o1"}}}))
	data := env.Data()
	assert.Equal(t, HintCompareOffers, data["ui_hint"])
	assert.Len(t, data["offers"], 1)

	env.Add(ToolAcceptOffer, OK(map[string]any{"booking_id": "b1"}))
	data = env.Data()
	assert.Equal(t, HintBookingConfirmed, data["ui_hint"])
	assert.Len(t, data["offers"], 1, "earlier keys survive")

	env.Add(ToolGetOffers, OK(map[string]any{"offers": []any{}}))
	assert.Empty(t, env.Data()["offers"], "later results overwrite")

	env.Add(ToolUpdateEnrollment, OK(nil))
	assert.Equal(t, true, env.Data()["enrollment_updated"])
}
