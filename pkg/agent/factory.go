// Package agent provides the LLM client factory with middleware chain construction.
package agent

import (
	"fmt"
	"sync"

	"proxie/pkg/agent/internal/llmimpl/anthropic"
	"proxie/pkg/agent/internal/llmimpl/google"
	"proxie/pkg/agent/internal/llmimpl/ollama"
	"proxie/pkg/agent/internal/llmimpl/openaiofficial"
	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/middleware/logging"
	"proxie/pkg/agent/middleware/metrics"
	"proxie/pkg/agent/middleware/resilience/circuit"
	"proxie/pkg/agent/middleware/resilience/ratelimit"
	"proxie/pkg/agent/middleware/resilience/retry"
	"proxie/pkg/agent/middleware/resilience/timeout"
	"proxie/pkg/agent/middleware/validation"
	"proxie/pkg/config"
	"proxie/pkg/logx"
)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
// Clients and circuit breakers are created once per model id.
type LLMClientFactory struct {
	recorder        metrics.Recorder
	logger          *logx.Logger
	circuitBreakers map[string]circuit.Breaker
	clients         map[string]llm.LLMClient
	limiters        *ratelimit.ProviderLimiterMap
	config          config.LLMConfig
	mu              sync.Mutex
}

// NewLLMClientFactory creates a factory. A nil recorder disables metrics.
func NewLLMClientFactory(cfg config.LLMConfig, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	limiters := ratelimit.NewProviderLimiterMap(cfg.Resilience.RateLimit)
	if tr, ok := recorder.(metrics.ThrottleRecorder); ok {
		for provider := range limiters.AllStats() {
			limiters.ForProvider(provider).OnWait(func(reason string) { tr.IncThrottle(provider, reason) })
		}
	}
	return &LLMClientFactory{
		config:          cfg,
		recorder:        recorder,
		logger:          logx.NewLogger("llm-factory"),
		circuitBreakers: make(map[string]circuit.Breaker),
		clients:         make(map[string]llm.LLMClient),
		limiters:        limiters,
	}
}

// IsMock reports whether modelID resolves to the scripted mock client,
// either because mock mode is on or because its provider has no credentials.
func (f *LLMClientFactory) IsMock(modelID string) bool {
	if f.config.Mock {
		return true
	}
	provider, _, err := config.ParseModelID(modelID)
	if err != nil {
		return false
	}
	return provider == config.ProviderMock || !config.HasCredentials(provider)
}

// CreateClient returns the chained client for a "<provider>/<model>" id.
func (f *LLMClientFactory) CreateClient(modelID string) (llm.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[modelID]; ok {
		return client, nil
	}

	rawClient, err := f.createRawClient(modelID)
	if err != nil {
		return nil, err
	}

	breaker, ok := f.circuitBreakers[modelID]
	if !ok {
		breakerLogger := f.logger
		breaker = circuit.New(circuit.FromSettings(f.config.Resilience.CircuitBreaker), func(from, to circuit.State) {
			breakerLogger.Warn("⚡ circuit for %s: %s -> %s", modelID, from, to)
		})
		f.circuitBreakers[modelID] = breaker
	}

	retryPolicy := retry.NewPolicy(retry.FromSettings(f.config.Resilience.Retry), nil)
	pricing := f.config.Pricing
	cost := func(id string, promptTokens, completionTokens int) float64 {
		return config.CalculateCost(id, promptTokens, completionTokens, pricing)
	}

	// Metrics -> CircuitBreaker -> Retry -> RateLimit -> Timeout -> EmptyResponseLogging -> EmptyResponse -> RawClient
	chain := []llm.Middleware{
		metrics.Middleware(modelID, f.recorder, nil, cost, f.logger),
		circuit.Middleware(breaker),
		retry.Middleware(retryPolicy, f.logger),
	}
	if limiter := f.limiters.ForModel(modelID); limiter != nil && !f.IsMock(modelID) {
		chain = append(chain, ratelimit.Middleware(limiter, nil, f.logger))
	}
	chain = append(chain,
		timeout.Middleware(f.config.CallTimeout.Std()),
		logging.EmptyResponseLoggingMiddleware(f.logger),
		validation.NewEmptyResponseValidator().Middleware(),
	)
	client := llm.Chain(rawClient, chain...)
	f.clients[modelID] = client
	return client, nil
}

// createRawClient creates the provider adapter without middleware.
func (f *LLMClientFactory) createRawClient(modelID string) (llm.LLMClient, error) {
	provider, model, err := config.ParseModelID(modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelID, err)
	}

	if f.IsMock(modelID) {
		f.logger.Info("🧪 Using scripted mock client for %s", modelID)
		return NewMockClient(model), nil
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// BreakerState returns the circuit state for modelID, or Closed when the
// model has not been used.
func (f *LLMClientFactory) BreakerState(modelID string) circuit.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.circuitBreakers[modelID]; ok {
		return b.GetState()
	}
	return circuit.Closed
}

// RateLimitStats returns the limiter state per rate limited provider.
func (f *LLMClientFactory) RateLimitStats() map[string]ratelimit.Stats {
	return f.limiters.AllStats()
}
