// Package timeout bounds each model call independently of the turn deadline.
package timeout

import (
	"context"
	"time"

	"proxie/pkg/agent/llm"
)

// Middleware gives every call its own deadline. A zero duration disables it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				callCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(callCtx, req)
			},
			next.GetModelName,
		)
	}
}
