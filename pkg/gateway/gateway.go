// Package gateway is the single entry point for model completions. It enforces
// the usage budget, serves and fills the completion cache, falls back to a
// secondary model and records usage for every billed call.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxie/pkg/agent"
	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/middleware/metrics"
	"proxie/pkg/config"
	"proxie/pkg/logx"
	"proxie/pkg/usage"
)

// Sentinel errors.
var (
	ErrBudgetExceeded = errors.New("LLM usage limit exceeded for this session/day.") //nolint:revive,stylecheck // user-facing text
	ErrModelFailed    = errors.New("model call failed")
)

// MockClient is the scripted client used when no credentials are configured.
type MockClient = agent.MockClient

// NewMockClient creates a scripted client.
func NewMockClient(model string) *MockClient { return agent.NewMockClient(model) }

// ClientSource resolves model ids to middleware-wrapped clients.
type ClientSource interface {
	CreateClient(modelID string) (llm.LLMClient, error)
}

// Request is a completion request with attribution.
type Request struct {
	Model       string // "<provider>/<model>"; empty selects the primary
	UserID      string
	SessionID   string
	Feature     string
	ToolChoice  string
	Messages    []llm.CompletionMessage
	Tools       []llm.ToolDefinition
	MaxTokens   int
	Temperature float32
	NoCache     bool
}

// NewRequest creates a request with the default temperature and token limit.
func NewRequest(feature string, messages []llm.CompletionMessage) Request {
	return Request{
		Feature:     feature,
		Messages:    messages,
		Temperature: llm.TemperatureDefault,
		MaxTokens:   llm.DefaultMaxTokens,
	}
}

// Completion is the gateway's result.
type Completion struct {
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Model      string         `json:"model"`
	Usage      llm.Usage      `json:"usage"`
	Cached     bool           `json:"-"`
}

// Options configure a Gateway.
type Options struct {
	Clients  ClientSource
	Ledger   usage.Ledger
	Cache    Cache
	Recorder metrics.Recorder
	Config   config.LLMConfig
}

// Gateway implements Complete over a ClientSource.
type Gateway struct {
	clients  ClientSource
	ledger   usage.Ledger
	cache    Cache
	recorder metrics.Recorder
	logger   *logx.Logger
	cfg      config.LLMConfig
}

// New creates a gateway. A nil Cache disables caching; a nil Ledger disables
// budgets and usage recording.
func New(opts Options) *Gateway {
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.Nop()
	}
	cache := opts.Cache
	if !opts.Config.CacheEnabled {
		cache = nil
	}
	return &Gateway{
		clients:  opts.Clients,
		ledger:   opts.Ledger,
		cache:    cache,
		recorder: rec,
		logger:   logx.NewLogger("gateway"),
		cfg:      opts.Config,
	}
}

// PrimaryModel returns the configured primary model id.
func (g *Gateway) PrimaryModel() string { return g.cfg.Primary }

// Complete runs one completion through budget, cache, primary and fallback.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Completion, error) {
	logger := g.logger.WithSession(req.SessionID)

	if g.ledger != nil {
		over, err := g.ledger.IsOverBudget(ctx, req.UserID, req.SessionID)
		switch {
		case err != nil:
			logger.Warn("budget check failed, allowing request: %v", err)
		case over:
			logger.Error("🚫 LLM budget exceeded, blocking request (user=%s)", req.UserID)
			return nil, ErrBudgetExceeded
		}
	}

	target := req.Model
	if target == "" {
		target = g.cfg.Primary
	}
	explicit := req.Model != "" && req.Model != g.cfg.Primary

	var cacheKey string
	if g.cache != nil && !req.NoCache {
		cacheKey = CacheKey(target, req.Messages, req.Tools)
		cached, ok, err := g.cache.Get(ctx, cacheKey)
		switch {
		case err != nil:
			logger.Warn("cache read failed: %v", err)
		case ok:
			logger.Debug("💾 cache hit for %s (feature=%s)", target, req.Feature)
			g.recorder.ObserveCache(req.Feature, true)
			cached.Cached = true
			return cached, nil
		default:
			g.recorder.ObserveCache(req.Feature, false)
		}
	}

	callCtx := llm.WithCallInfo(ctx, llm.CallInfo{Feature: req.Feature, SessionID: req.SessionID, UserID: req.UserID})

	completion, err := g.attempt(callCtx, target, req)
	if err != nil {
		logger.Error("LLM primary model %s failed: %v", target, err)
		fallback := g.cfg.Fallback
		if explicit || fallback == "" || fallback == target || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrModelFailed, target, err)
		}
		logger.Info("🔁 Attempting LLM fallback %s", fallback)
		var fbErr error
		completion, fbErr = g.attempt(callCtx, fallback, req)
		if fbErr != nil {
			logger.Error("LLM fallback model %s failed: %v", fallback, fbErr)
			return nil, fmt.Errorf("%w: %s: %w; fallback %s: %w", ErrModelFailed, target, err, fallback, fbErr)
		}
	}

	g.recordUsage(ctx, req, completion)

	if cacheKey != "" {
		if err := g.cache.Set(ctx, cacheKey, completion, g.cfg.CacheTTL.Std()); err != nil {
			logger.Warn("cache write failed: %v", err)
		}
	}
	return completion, nil
}

func (g *Gateway) attempt(ctx context.Context, modelID string, req Request) (*Completion, error) {
	client, err := g.clients.CreateClient(modelID)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	creq := llm.CompletionRequest{
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if creq.MaxTokens <= 0 {
		creq.MaxTokens = g.cfg.MaxTokens
	}
	if creq.ToolChoice == "" && len(creq.Tools) > 0 {
		creq.ToolChoice = llm.ToolChoiceAuto
	}
	resp, err := client.Complete(ctx, creq)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by middleware
	}
	return &Completion{
		Content:    resp.Content,
		ToolCalls:  resp.ToolCalls,
		StopReason: resp.StopReason,
		Model:      modelID,
		Usage:      resp.Usage,
	}, nil
}

func (g *Gateway) recordUsage(ctx context.Context, req Request, c *Completion) {
	if g.ledger == nil {
		return
	}
	provider, model, err := config.ParseModelID(c.Model)
	if err != nil {
		provider, model = "unknown", c.Model
	}
	rec := usage.Record{
		Provider:         provider,
		Model:            model,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Feature:          req.Feature,
		CostUSD:          config.CalculateCost(c.Model, c.Usage.PromptTokens, c.Usage.CompletionTokens, g.cfg.Pricing),
		CreatedAt:        time.Now(),
	}
	// Usage is recorded even when the caller's context ended after the call.
	if err := g.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("usage record failed: %v", err)
	}
}

// Invalidate clears cache entries with the given key prefix. An empty prefix
// clears every completion entry.
func (g *Gateway) Invalidate(ctx context.Context, prefix string) (int, error) {
	if g.cache == nil {
		return 0, nil
	}
	if prefix == "" {
		prefix = CachePrefix
	}
	n, err := g.cache.Invalidate(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("invalidate cache: %w", err)
	}
	g.logger.Info("🧹 invalidated %d cache entries (prefix=%s)", n, prefix)
	return n, nil
}

// Health reports ledger health.
func (g *Gateway) Health(ctx context.Context) error {
	if g.ledger == nil {
		return nil
	}
	return g.ledger.Health(ctx) //nolint:wrapcheck // passthrough
}
