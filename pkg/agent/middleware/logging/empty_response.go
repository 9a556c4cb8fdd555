// Package logging records what was sent to a model when it came back empty.
package logging

import (
	"context"
	"strings"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/logx"
)

// DebugDomain enables the full transcript dump (DEBUG=1 DEBUG_DOMAINS=llm).
const DebugDomain = "llm"

const maxLoggedContent = 2000

// EmptyResponseLoggingMiddleware logs the request behind every
// ErrorTypeEmptyResponse and passes the error through unchanged. The summary
// is always logged; message bodies only when DebugDomain is enabled, since
// they carry user details.
func EmptyResponseLoggingMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm-middleware")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
					logEmptyResponse(ctx, logger, next.GetModelName(), req)
				}
				return resp, err //nolint:wrapcheck // passthrough
			},
			next.GetModelName,
		)
	}
}

//nolint:gocritic // request passed by value to match llm.LLMClient
func logEmptyResponse(ctx context.Context, logger *logx.Logger, model string, req llm.CompletionRequest) {
	info := llm.CallInfoFrom(ctx)
	logger.Error("🚨 empty response from %s (feature=%s session=%s messages=%d temperature=%v max_tokens=%d tools=[%s])",
		model, info.Feature, info.SessionID, len(req.Messages), req.Temperature, req.MaxTokens,
		strings.Join(toolNames(req.Tools), ", "))

	if !logx.IsDebugEnabledForDomain(DebugDomain) {
		return
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		logx.Debug(ctx, DebugDomain, "message[%d] role=%s: %s", i, msg.Role, truncate(msg.Content))
	}
}

func toolNames(defs []llm.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i := range defs {
		names[i] = defs[i].Name
	}
	return names
}

func truncate(s string) string {
	if len(s) <= maxLoggedContent {
		return s
	}
	return s[:maxLoggedContent] + " [truncated]"
}
