package retry

import (
	"context"
	"fmt"
	"time"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/logx"
)

// Middleware retries failed completions according to policy. When a
// retryable error survives every attempt it is reported as ServiceUnavailable
// so the gateway can move on to the fallback model.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("retry")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				attempts := 0

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						if delay := policy.CalculateDelay(attempt); delay > 0 {
							timer := time.NewTimer(delay)
							select {
							case <-ctx.Done():
								timer.Stop()
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-timer.C:
							}
						}
						logger.Debug("🔁 retrying %s (attempt %d/%d): %v", next.GetModelName(), attempt, policy.Config.MaxAttempts, lastErr)
					}

					attempts = attempt
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !policy.ShouldRetry(err) || ctx.Err() != nil {
						break
					}
				}

				if policy.ShouldRetry(lastErr) && ctx.Err() == nil {
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempts)
				}
				return llm.CompletionResponse{}, lastErr
			},
			next.GetModelName,
		)
	}
}
