package circuit

import (
	"context"
	"errors"

	"proxie/pkg/agent/llm"
)

// Middleware rejects calls while the breaker is open. Caller cancellation is
// not counted as a model failure.
func Middleware(b Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !b.Allow() {
					return llm.CompletionResponse{}, &Error{Model: next.GetModelName(), State: b.GetState()}
				}

				resp, err := next.Complete(ctx, req)
				if err != nil && errors.Is(err, context.Canceled) {
					return resp, err //nolint:wrapcheck // passthrough
				}
				b.Record(err == nil)
				return resp, err //nolint:wrapcheck // passthrough
			},
			next.GetModelName,
		)
	}
}
