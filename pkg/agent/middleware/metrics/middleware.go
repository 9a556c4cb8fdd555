package metrics

import (
	"context"
	"errors"
	"time"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/agent/middleware/resilience/circuit"
	"proxie/pkg/logx"
	"proxie/pkg/utils"
)

// UsageExtractor derives token usage for a successful call.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// CostFunc prices a call for the given model id.
type CostFunc func(modelID string, promptTokens, completionTokens int) float64

// DefaultUsageExtractor trusts provider-reported usage and estimates with
// tiktoken when the provider reported nothing.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.Total() > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// Middleware records every call under modelID. The feature label comes from
// the llm.CallInfo on the context. Responses are annotated with the
// extracted usage so downstream accounting sees the same numbers.
func Middleware(modelID string, recorder Recorder, extractor UsageExtractor, cost CostFunc, logger *logx.Logger) llm.Middleware {
	if extractor == nil {
		extractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				info := llm.CallInfoFrom(ctx)
				obs := Observation{
					Model:    modelID,
					Feature:  info.Feature,
					Duration: duration,
					Success:  err == nil,
				}
				if err == nil {
					obs.PromptTokens, obs.CompletionTokens = extractor(req, resp)
					resp.Usage = llm.Usage{PromptTokens: obs.PromptTokens, CompletionTokens: obs.CompletionTokens}
					if cost != nil {
						obs.CostUSD = cost(modelID, obs.PromptTokens, obs.CompletionTokens)
					}
				} else {
					obs.ErrorType = ErrorLabel(err)
				}
				recorder.ObserveRequest(obs)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error:" + obs.ErrorType
					}
					logger.Debug("🎯 LLM request: model=%s feature=%s session=%s tokens=%d+%d cost=$%.5f status=%s duration=%dms",
						modelID, info.Feature, info.SessionID, obs.PromptTokens, obs.CompletionTokens, obs.CostUSD, status, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // passthrough
			},
			next.GetModelName,
		)
	}
}

// ErrorLabel maps an error to a low-cardinality metrics label.
func ErrorLabel(err error) string {
	if err == nil {
		return ""
	}
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
