// Package validation rejects completions that carry nothing usable and
// re-asks the model once with guidance before giving up.
package validation

import (
	"context"
	"strings"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/logx"
)

// FeatureExtraction marks calls whose answer must contain a JSON object.
const FeatureExtraction = "extraction"

const maxEmptyAttempts = 2

const (
	guidanceConversational = "Your previous reply was empty. Please answer the user directly, or call one of the available tools."
	guidanceJSON           = "Your previous reply did not contain a JSON object. Respond with a single JSON object only."
)

// EmptyResponseValidator checks responses for usable content.
type EmptyResponseValidator struct {
	logger *logx.Logger
}

// NewEmptyResponseValidator creates a validator.
func NewEmptyResponseValidator() *EmptyResponseValidator {
	return &EmptyResponseValidator{logger: logx.NewLogger("empty-response-validator")}
}

// Middleware validates each completion. On the first empty answer a
// guidance message is appended and the call repeated; a second empty answer
// is reported as ErrorTypeEmptyResponse.
func (v *EmptyResponseValidator) Middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				wantJSON := llm.CallInfoFrom(ctx).Feature == FeatureExtraction

				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // passthrough
					}
					if err == nil && !IsEmpty(resp, wantJSON) {
						return resp, nil
					}

					v.logger.Warn("⚠️ empty response from %s (attempt %d/%d, json=%v)",
						next.GetModelName(), attempt, maxEmptyAttempts, wantJSON)

					if attempt < maxEmptyAttempts {
						guidance := guidanceConversational
						if wantJSON {
							guidance = guidanceJSON
						}
						retry := req
						retry.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...), llm.NewUserMessage(guidance))
						req = retry
					}
				}

				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"no usable content after guidance",
				)
			},
			next.GetModelName,
		)
	}
}

// IsEmpty reports whether resp carries nothing the caller can use. Tool calls
// always count as content; JSON mode additionally requires a '{...}' object.
func IsEmpty(resp llm.CompletionResponse, wantJSON bool) bool {
	if len(resp.ToolCalls) > 0 {
		return false
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return true
	}
	if wantJSON {
		start := strings.Index(content, "{")
		return start < 0 || strings.LastIndex(content, "}") < start
	}
	return false
}
