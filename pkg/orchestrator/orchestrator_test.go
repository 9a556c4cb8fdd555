package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/agent"
	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/toolloop"
	"proxie/pkg/config"
	"proxie/pkg/drafts"
	"proxie/pkg/gateway"
	"proxie/pkg/marketplace"
	"proxie/pkg/memory"
	"proxie/pkg/session"
	"proxie/pkg/specialist"
	"proxie/pkg/tools"
	"proxie/pkg/tracker"
	"proxie/pkg/usage"
)

type mockSource struct{ client *gateway.MockClient }

func (m mockSource) CreateClient(string) (llm.LLMClient, error) { return m.client, nil }

// recordingCompleter keeps every concierge request it forwards.
type recordingCompleter struct {
	inner toolloop.Completer
	chat  []gateway.Request
	mu    sync.Mutex
}

func (r *recordingCompleter) Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error) {
	if req.Feature == FeatureChat {
		r.mu.Lock()
		r.chat = append(r.chat, req)
		r.mu.Unlock()
	}
	return r.inner.Complete(ctx, req)
}

func (r *recordingCompleter) last(t *testing.T) gateway.Request {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.chat, "no concierge call recorded")
	return r.chat[len(r.chat)-1]
}

type harness struct {
	orch      *Orchestrator
	completer *recordingCompleter
	client    *gateway.MockClient
	market    *marketplace.InMemory
	sessions  *session.MemoryStore
	ledger    *usage.MemoryLedger
	memStore  *memory.MemoryStore
}

func newHarness(t *testing.T, limits usage.Limits, wrap func(toolloop.Completer) toolloop.Completer) *harness {
	t.Helper()
	cfg := config.Default().LLM
	cfg.Primary = "mock/test"
	cfg.Fallback = ""
	cfg.CacheEnabled = false

	client := gateway.NewMockClient("mock")
	ledger := usage.NewMemoryLedger(limits)
	var completer toolloop.Completer = gateway.New(gateway.Options{Clients: mockSource{client: client}, Ledger: ledger, Config: cfg})
	if wrap != nil {
		completer = wrap(completer)
	}
	rec := &recordingCompleter{inner: completer}

	cat, err := marketplace.DefaultCatalog()
	require.NoError(t, err)
	market := marketplace.NewInMemory(cat)
	registry, err := tools.NewDefaultRegistry(market, nil)
	require.NoError(t, err)
	specialists, err := specialist.NewDefaultRegistry()
	require.NoError(t, err)

	sessions := session.NewMemoryStore(0)
	memStore := memory.NewMemoryStore()
	orch, err := New(Deps{
		Completer:   rec,
		Sessions:    sessions,
		Tools:       registry,
		Specialists: specialists,
		Market:      market,
		Memory:      memory.NewService(memStore, market, nil),
		Config:      config.OrchestratorConfig{MaxToolRounds: 5},
	})
	require.NoError(t, err)
	return &harness{
		orch:      orch,
		completer: rec,
		client:    client,
		market:    market,
		sessions:  sessions,
		ledger:    ledger,
		memStore:  memStore,
	}
}

func (h *harness) turn(t *testing.T, req TurnRequest) *TurnResult {
	t.Helper()
	res, err := h.orch.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, id string) *session.Session {
	t.Helper()
	sess, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func toolResults(sess *session.Session) []string {
	var names []string
	for _, m := range sess.Messages {
		if m.Role == llm.RoleTool {
			names = append(names, m.Name)
		}
	}
	return names
}

func TestKnownCitySkipsReask(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	h.market.AddConsumer(marketplace.Consumer{
		ID:              "c1",
		Name:            "Sam Lee",
		DefaultLocation: map[string]any{"city": "San Francisco"},
	})

	res := h.turn(t, TurnRequest{SessionID: "s1", Role: "consumer", ConsumerID: "c1", Message: "I need a haircut"})
	lower := strings.ToLower(res.Message)
	assert.NotContains(t, lower, "city")
	assert.NotContains(t, lower, "where")

	sess := h.session(t, "s1")
	assert.Equal(t, "San Francisco", sess.Context.Facts.City)
	assert.NotContains(t, sess.Context.MissingRequired(tracker.IntentServiceRequest), tracker.KeyLocation)
}

func TestExtractionFromOneMessage(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	h.turn(t, TurnRequest{
		SessionID: "s2",
		Role:      "guest",
		Message:   "I need a haircut for curly 4C hair in Brooklyn, maybe this weekend around $50",
	})

	f := h.session(t, "s2").Context.Facts
	assert.Equal(t, "haircut", f.ServiceType)
	assert.Equal(t, "Brooklyn", f.Location)
	assert.Equal(t, "this_week", f.Timing)
	require.NotNil(t, f.BudgetMax)
	assert.Equal(t, 50.0, *f.BudgetMax)
	assert.Equal(t, "4C", f.Preferences["hair_type"])
	assert.Equal(t, "curly", f.Preferences["hair_texture"])
}

func TestDraftAndApprove(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	first := h.turn(t, TurnRequest{
		SessionID:  "s3",
		Role:       "consumer",
		ConsumerID: "c1",
		Message:    "I need a haircut in Brooklyn, budget $60-80, this weekend.",
	})
	require.True(t, first.AwaitingApproval)
	draft, ok := first.Draft.(*session.RequestDraft)
	require.True(t, ok, "draft is a request draft")
	assert.Equal(t, "haircut", draft.ServiceType)
	assert.Equal(t, "Brooklyn", draft.Location)
	assert.Equal(t, "this_week", draft.Timing)
	require.NotNil(t, draft.Budget.Min)
	require.NotNil(t, draft.Budget.Max)
	assert.Equal(t, 60.0, *draft.Budget.Min)
	assert.Equal(t, 80.0, *draft.Budget.Max)
	assert.NotContains(t, first.Message, "[button:")
	buttons, _ := first.Data["buttons"].([]Button)
	require.Len(t, buttons, 2)
	assert.Equal(t, drafts.ActionApproveRequest, buttons[0].Action)

	second := h.turn(t, TurnRequest{SessionID: "s3", Role: "consumer", ConsumerID: "c1", Action: drafts.ActionApproveRequest})
	assert.False(t, second.AwaitingApproval)
	assert.Nil(t, second.Draft)
	id, _ := second.Data["request_id"].(string)
	assert.NotEmpty(t, id)

	req, err := h.market.GetRequest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ConsumerID)

	third := h.turn(t, TurnRequest{SessionID: "s3", Role: "consumer", ConsumerID: "c1", Action: drafts.ActionApproveRequest})
	assert.Equal(t, drafts.MsgAlreadyPosted, third.Message)
	reqs, err := h.market.ConsumerRequests(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)

	cc, err := h.orch.memory.GetConsumerContext(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Brooklyn", cc.Memory.LastLocation())
}

func TestToolLoopConvergence(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	ctx := context.Background()
	p := h.market.AddProvider(marketplace.Provider{
		ID:       "p1",
		Name:     "Bea",
		Services: []marketplace.ProviderService{{Type: "haircut", BasePrice: 60}},
	})
	_, err := h.market.CreateRequest(ctx, marketplace.NewRequest{
		ConsumerID:  "c1",
		ServiceType: "haircut",
		Location:    "Brooklyn",
		Budget:      marketplace.Budget{Min: 50, Max: 90},
	})
	require.NoError(t, err)

	res := h.turn(t, TurnRequest{
		SessionID:  "s4",
		Role:       "provider",
		ProviderID: p.ID,
		Message:    "Show me my leads and suggest a price for the first one.",
	})

	names := toolResults(h.session(t, "s4"))
	assert.GreaterOrEqual(t, len(names), 2)
	assert.Contains(t, names, tools.ToolGetMatchingRequests)
	assert.Contains(t, names, tools.ToolSuggestOffer)
	assert.Regexp(t, `\$\d+(\.\d+)?`, res.Message)
	assert.Equal(t, tools.HintOfferHelper, res.Data["ui_hint"])
	assert.NotNil(t, res.Data["requests"])
}

func TestBudgetGuard(t *testing.T) {
	h := newHarness(t, usage.Limits{SessionUSD: 0.01}, nil)
	require.NoError(t, h.ledger.Record(context.Background(), usage.Record{
		CreatedAt: time.Now(), Provider: "mock", Model: "test", SessionID: "s5", CostUSD: 1,
	}))

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s5", Role: "consumer", ConsumerID: "c1", Message: "I need a haircut in Brooklyn",
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, res.Message, "limit exceeded")
	assert.Equal(t, 0, h.client.Calls(), "no model call is made")

	_, getErr := h.sessions.Get(context.Background(), "s5")
	assert.ErrorIs(t, getErr, session.ErrNotFound, "nothing is persisted")
	reqs, err := h.market.ConsumerRequests(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestHandoffBanner(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	h.turn(t, TurnRequest{SessionID: "s6", Role: "guest", Message: "hello"})

	res := h.turn(t, TurnRequest{
		SessionID: "s6", Role: "consumer", ConsumerID: "c6", DisplayName: "Alice", Message: "I need a haircut",
	})
	assert.Contains(t, res.Message, "Welcome back, Alice")

	sess := h.session(t, "s6")
	assert.Equal(t, session.RoleConsumer, sess.Role)
	found := false
	for _, m := range sess.Messages {
		if m.Role == llm.RoleAssistant && strings.Contains(m.Content, "Welcome back, Alice") {
			found = true
		}
	}
	assert.True(t, found, "banner is in the transcript")

	h.turn(t, TurnRequest{SessionID: "s6", Role: "consumer", ConsumerID: "c6", Message: "Somewhere in Queens please"})
	last := h.completer.last(t)
	assert.Contains(t, last.Messages[0].Content, agent.MarkerRole+" consumer")
	var names []string
	for _, def := range last.Tools {
		names = append(names, def.Name)
	}
	assert.ElementsMatch(t, tools.ConsumerTools, names)
}

func TestGreeting(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	h.market.AddConsumer(marketplace.Consumer{ID: "c7", Name: "Sam Lee"})

	res := h.turn(t, TurnRequest{SessionID: "s7", Role: "consumer", ConsumerID: "c7"})
	assert.Equal(t, "Welcome back, Sam! 👋 How can I help you today?", res.Message)
	assert.Equal(t, 0, h.client.Calls())
	assert.True(t, h.session(t, "s7").Greeted)

	guest := h.turn(t, TurnRequest{SessionID: "s8", Role: "guest"})
	assert.Contains(t, guest.Message, "Proxie")
}

func TestMediaValidationReplies(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	many := make([]session.Media, MaxAttachments+1)
	for i := range many {
		many[i] = session.Media{URL: "https://cdn/x.jpg", MimeType: "image/jpeg"}
	}
	res := h.turn(t, TurnRequest{SessionID: "m1", Role: "guest", Message: "look", Media: many})
	assert.Contains(t, res.Message, "at most 5")

	res = h.turn(t, TurnRequest{SessionID: "m1", Role: "guest", Message: "look", Media: []session.Media{
		{URL: "https://cdn/x.pdf", MimeType: "application/pdf"},
	}})
	assert.Contains(t, res.Message, "aren't supported")
	assert.Equal(t, 0, h.client.Calls())
}

func TestMediaIsKeptOnTheDraft(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	res := h.turn(t, TurnRequest{
		SessionID:  "m2",
		Role:       "consumer",
		ConsumerID: "c1",
		Message:    "I need a haircut in Brooklyn",
		Media:      []session.Media{{URL: "https://cdn/hair.jpg", MimeType: "IMAGE/JPEG", Description: "long curly hair"}},
	})
	draft, ok := res.Draft.(*session.RequestDraft)
	require.True(t, ok)
	require.Len(t, draft.Media, 1)
	assert.Equal(t, session.MediaImage, draft.Media[0].Kind)
	assert.Equal(t, "image/jpeg", draft.Media[0].MimeType)
}

func TestInvalidRole(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Role: "admin", Message: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// stallingCompleter blocks concierge calls until the turn deadline.
type stallingCompleter struct{ inner toolloop.Completer }

func (s stallingCompleter) Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error) {
	if req.Feature != FeatureChat {
		return s.inner.Complete(ctx, req)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDeadlinePersistsSession(t *testing.T) {
	h := newHarness(t, usage.Limits{}, func(inner toolloop.Completer) toolloop.Completer { return stallingCompleter{inner: inner} })
	h.orch.cfg.TurnTimeout = config.Duration(50 * time.Millisecond)

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{
		SessionID: "d1", Role: "consumer", ConsumerID: "c1", Message: "I need a haircut in Brooklyn",
	})
	require.ErrorIs(t, err, ErrDeadline)
	assert.Contains(t, res.Message, "took longer than expected")

	sess := h.session(t, "d1")
	assert.Equal(t, "haircut", sess.Context.Facts.ServiceType)
	lastMsg := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, llm.RoleAssistant, lastMsg.Role)
}

// failingCompleter fails every concierge call.
type failingCompleter struct{ inner toolloop.Completer }

func (f failingCompleter) Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error) {
	if req.Feature != FeatureChat {
		return f.inner.Complete(ctx, req)
	}
	return nil, errors.Join(gateway.ErrModelFailed, errors.New("upstream 500"))
}

func TestModelFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t, usage.Limits{}, func(inner toolloop.Completer) toolloop.Completer { return failingCompleter{inner: inner} })

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{
		SessionID: "f1", Role: "guest", Message: "I need a plumber",
	})
	require.ErrorIs(t, err, ErrModelFailed)
	assert.Equal(t, ModelFailedMessage, res.Message)
	_, getErr := h.sessions.Get(context.Background(), "f1")
	assert.ErrorIs(t, getErr, session.ErrNotFound)
}

// postThenFailCompleter posts the request with a tool call on the first
// concierge call of a turn once armed, then fails the follow-up call.
type postThenFailCompleter struct {
	inner toolloop.Completer
	mu    sync.Mutex
	armed bool
	calls int
}

func (p *postThenFailCompleter) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
}

func (p *postThenFailCompleter) Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error) {
	p.mu.Lock()
	armed := p.armed
	if armed && req.Feature == FeatureChat {
		p.calls++
	}
	calls := p.calls
	p.mu.Unlock()

	if !armed || req.Feature != FeatureChat {
		return p.inner.Complete(ctx, req)
	}
	if calls == 1 {
		return &gateway.Completion{ToolCalls: []llm.ToolCall{{
			ID:        "call-1",
			Name:      tools.ToolCreateServiceRequest,
			Arguments: `{"service_type":"haircut","location":"Brooklyn"}`,
		}}}, nil
	}
	return nil, errors.Join(gateway.ErrModelFailed, errors.New("upstream 500"))
}

func TestModelFailureAfterPostingKeepsSessionInStep(t *testing.T) {
	var pf *postThenFailCompleter
	h := newHarness(t, usage.Limits{}, func(inner toolloop.Completer) toolloop.Completer {
		pf = &postThenFailCompleter{inner: inner}
		return pf
	})
	ctx := context.Background()

	first := h.turn(t, TurnRequest{SessionID: "pf1", Role: "consumer", ConsumerID: "c1", Message: "I need a haircut in Brooklyn, budget $60-80, this weekend."})
	require.True(t, first.AwaitingApproval)

	pf.arm()
	_, err := h.orch.HandleTurn(ctx, TurnRequest{SessionID: "pf1", Role: "consumer", ConsumerID: "c1", Message: "yes, post it"})
	require.ErrorIs(t, err, ErrModelFailed)

	reqs, err := h.market.ConsumerRequests(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	stored := h.session(t, "pf1")
	assert.Nil(t, stored.RequestDraft)
	assert.False(t, stored.AwaitingApproval())
	require.NotNil(t, stored.LastApproved)
	assert.Equal(t, reqs[0].ID, stored.LastApproved.ArtifactID)

	again, err := h.orch.HandleTurn(ctx, TurnRequest{SessionID: "pf1", Role: "consumer", ConsumerID: "c1", Action: drafts.ActionApproveRequest})
	require.NoError(t, err)
	assert.Equal(t, drafts.MsgAlreadyPosted, again.Message)
	assert.Equal(t, reqs[0].ID, again.Data["request_id"])

	reqs, err = h.market.ConsumerRequests(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestEditKeepsContext(t *testing.T) {
	h := newHarness(t, usage.Limits{}, nil)
	h.turn(t, TurnRequest{SessionID: "e1", Role: "consumer", ConsumerID: "c1", Message: "I need a haircut in Brooklyn"})
	res := h.turn(t, TurnRequest{SessionID: "e1", Role: "consumer", ConsumerID: "c1", Action: drafts.ActionEditRequest})
	assert.Equal(t, drafts.MsgEditRequest, res.Message)
	assert.False(t, res.AwaitingApproval)
	assert.Equal(t, "Brooklyn", h.session(t, "e1").Context.Facts.Location)
}
