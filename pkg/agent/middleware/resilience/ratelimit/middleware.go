package ratelimit

import (
	"context"
	"strings"

	"proxie/pkg/agent/llm"
	"proxie/pkg/logx"
	"proxie/pkg/utils"
)

// TokenEstimator estimates the tokens a request will consume.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// DefaultTokenEstimator counts message content with the tiktoken fallback
// heuristic.
type DefaultTokenEstimator struct{}

// EstimatePrompt returns the approximate prompt size of req.
//
//nolint:gocritic // request passed by value to match llm.LLMClient
func (DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	var b strings.Builder
	for i := range req.Messages {
		b.WriteString(req.Messages[i].Content)
		b.WriteByte('\n')
	}
	return utils.CountTokensSimple(b.String())
}

// Middleware waits on limiter before each call and reserves the prompt
// estimate plus MaxTokens. A nil limiter passes calls through.
func Middleware(limiter Limiter, estimator TokenEstimator, logger *logx.Logger) llm.Middleware {
	if estimator == nil {
		estimator = DefaultTokenEstimator{}
	}
	return func(next llm.LLMClient) llm.LLMClient {
		if limiter == nil {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				tokens := estimator.EstimatePrompt(req) + req.MaxTokens
				release, err := limiter.Acquire(ctx, tokens)
				if err != nil {
					if logger != nil {
						logger.Warn("🚦 %s: %v", next.GetModelName(), err)
					}
					return llm.CompletionResponse{}, err
				}
				defer release()
				return next.Complete(ctx, req) //nolint:wrapcheck // passthrough
			},
			next.GetModelName,
		)
	}
}
