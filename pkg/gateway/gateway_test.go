package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/agent"
	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/middleware/metrics"
	"proxie/pkg/config"
	"proxie/pkg/persistence"
	"proxie/pkg/usage"
)

const (
	primary  = "google/gemini-2.0-flash"
	fallback = "anthropic/claude-sonnet-4-5"
)

type scriptedClient struct {
	err     error
	content string
	calls   int
	mu      sync.Mutex
}

func (s *scriptedClient) Complete(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err
	}
	if s.err != nil {
		return llm.CompletionResponse{}, s.err
	}
	return llm.CompletionResponse{Content: s.content, Usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 500}}, nil
}

func (s *scriptedClient) GetModelName() string { return "scripted" }

func (s *scriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type clientMap map[string]llm.LLMClient

func (m clientMap) CreateClient(id string) (llm.LLMClient, error) {
	c, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("no client for %s", id)
	}
	return c, nil
}

func testConfig() config.LLMConfig {
	cfg := config.Default().LLM
	cfg.Primary = primary
	cfg.Fallback = fallback
	cfg.CacheEnabled = true
	return cfg
}

func newTestGateway(clients clientMap, ledger usage.Ledger, cache Cache) *Gateway {
	return New(Options{Clients: clients, Ledger: ledger, Cache: cache, Config: testConfig()})
}

func chatRequest(text string) Request {
	req := NewRequest("chat", []llm.CompletionMessage{llm.NewUserMessage(text)})
	req.SessionID = "s1"
	req.UserID = "u1"
	return req
}

func TestBudgetExceededSkipsModel(t *testing.T) {
	ledger := usage.NewMemoryLedger(usage.Limits{SessionUSD: 0.5})
	require.NoError(t, ledger.Record(context.Background(), usage.Record{SessionID: "s1", CostUSD: 0.5}))
	p := &scriptedClient{content: "hi"}
	g := newTestGateway(clientMap{primary: p}, ledger, nil)

	_, err := g.Complete(context.Background(), chatRequest("hello"))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "limit exceeded")
	assert.Equal(t, 0, p.Calls())
}

func TestCacheHitSkipsModelAndBilling(t *testing.T) {
	ledger := usage.NewMemoryLedger(usage.Limits{})
	p := &scriptedClient{content: "cached answer"}
	rec := metrics.NewInternalRecorder()
	g := New(Options{Clients: clientMap{primary: p}, Ledger: ledger, Cache: NewMemoryCache(), Recorder: rec, Config: testConfig()})
	ctx := context.Background()

	first, err := g.Complete(ctx, chatRequest("hello"))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := g.Complete(ctx, chatRequest("hello"))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, 1, p.Calls())

	totals, err := ledger.Totals(ctx, usage.Filter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Calls)

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].CacheHits)
	assert.Equal(t, int64(1), snap[0].CacheMisses)
}

func TestNoCacheOptOut(t *testing.T) {
	p := &scriptedClient{content: "x"}
	g := newTestGateway(clientMap{primary: p}, nil, NewMemoryCache())
	req := chatRequest("hello")
	req.NoCache = true

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.Calls())
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	ledger := usage.NewMemoryLedger(usage.Limits{})
	p := &scriptedClient{err: errors.New("primary down")}
	f := &scriptedClient{content: "from fallback"}
	g := newTestGateway(clientMap{primary: p, fallback: f}, ledger, nil)

	c, err := g.Complete(context.Background(), chatRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "from fallback", c.Content)
	assert.Equal(t, fallback, c.Model)

	recs, err := ledger.Records(context.Background(), usage.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "anthropic", recs[0].Provider)
	assert.Equal(t, "claude-sonnet-4-5", recs[0].Model)
	// 1000 * 3.00/1M + 500 * 15.00/1M
	assert.InDelta(t, 0.0105, recs[0].CostUSD, 1e-9)
}

func TestBothModelsFail(t *testing.T) {
	errPrimary := errors.New("primary down")
	errFallback := errors.New("fallback down")
	g := newTestGateway(clientMap{
		primary:  &scriptedClient{err: errPrimary},
		fallback: &scriptedClient{err: errFallback},
	}, nil, nil)

	_, err := g.Complete(context.Background(), chatRequest("hello"))
	require.ErrorIs(t, err, ErrModelFailed)
	require.ErrorIs(t, err, errPrimary)
	require.ErrorIs(t, err, errFallback)
}

func TestExplicitModelDoesNotFallBack(t *testing.T) {
	explicitModel := "openai/gpt-4o-mini"
	o := &scriptedClient{err: errors.New("boom")}
	f := &scriptedClient{content: "fallback"}
	g := newTestGateway(clientMap{explicitModel: o, fallback: f}, nil, nil)

	req := chatRequest("hello")
	req.Model = explicitModel
	_, err := g.Complete(context.Background(), req)
	require.ErrorIs(t, err, ErrModelFailed)
	assert.Equal(t, 0, f.Calls())
}

func TestCancelledContextDoesNotFallBack(t *testing.T) {
	f := &scriptedClient{content: "fallback"}
	g := newTestGateway(clientMap{primary: &scriptedClient{content: "x"}, fallback: f}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Complete(ctx, chatRequest("hello"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.Calls())
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*Completion, bool, error) {
	return nil, false, errors.New("cache offline")
}

func (brokenCache) Set(context.Context, string, *Completion, time.Duration) error {
	return errors.New("cache offline")
}

func (brokenCache) Invalidate(context.Context, string) (int, error) { return 0, errors.New("cache offline") }

func TestCacheErrorsAreSwallowed(t *testing.T) {
	g := newTestGateway(clientMap{primary: &scriptedClient{content: "ok"}}, nil, brokenCache{})
	c, err := g.Complete(context.Background(), chatRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Content)
}

func TestSQLiteCacheRoundTripAndInvalidate(t *testing.T) {
	db, err := persistence.Open(persistence.MemoryPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	p := &scriptedClient{content: "persisted"}
	g := newTestGateway(clientMap{primary: p}, nil, NewSQLiteCache(persistence.NewDatabaseOperations(db)))
	ctx := context.Background()

	_, err = g.Complete(ctx, chatRequest("hello"))
	require.NoError(t, err)
	hit, err := g.Complete(ctx, chatRequest("hello"))
	require.NoError(t, err)
	assert.True(t, hit.Cached)

	n, err := g.Invalidate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	miss, err := g.Complete(ctx, chatRequest("hello"))
	require.NoError(t, err)
	assert.False(t, miss.Cached)
	assert.Equal(t, 2, p.Calls())
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &Completion{Content: "v"}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheKeyStability(t *testing.T) {
	msgs := []llm.CompletionMessage{llm.NewSystemMessage("sys"), llm.NewUserMessage("hi")}
	tools := []llm.ToolDefinition{{Name: "get_offers"}}

	k1 := CacheKey(primary, msgs, tools)
	assert.Equal(t, k1, CacheKey(primary, msgs, tools))
	assert.Len(t, k1, len(CachePrefix)+64)
	assert.NotEqual(t, k1, CacheKey(fallback, msgs, tools))
	assert.NotEqual(t, k1, CacheKey(primary, msgs, nil))
	assert.NotEqual(t, k1, CacheKey(primary, msgs[:1], tools))

	named := []llm.CompletionMessage{llm.NewToolMessage("c1", "get_offers", "{}")}
	unnamed := []llm.CompletionMessage{llm.NewToolMessage("c1", "", "{}")}
	assert.Equal(t, CacheKey(primary, named, nil), CacheKey(primary, unnamed, nil))
}

func TestMockModeThroughFactory(t *testing.T) {
	cfg := testConfig()
	cfg.Mock = true
	g := New(Options{Clients: agent.NewLLMClientFactory(cfg, nil), Ledger: usage.NewMemoryLedger(usage.Limits{}), Config: cfg})

	req := chatRequest("hello")
	req.Messages = append([]llm.CompletionMessage{
		llm.NewSystemMessage(agent.MarkerRole + " consumer\n" + agent.MarkerMissingRequired + " service_type"),
	}, req.Messages...)
	c, err := g.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Content)
	assert.Equal(t, 20, c.Usage.Total())
}
