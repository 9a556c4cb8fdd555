// Package ollama adapts a local Ollama server to llm.LLMClient.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
)

// DefaultHost is used when the configured host cannot be parsed.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a raw client for hostURL (e.g. "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   model,
		hostURL: parsed.String(),
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // value receiver matches the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessagesToOllama(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		tools, convErr := convertToolsToOllama(in.Tools)
		if convErr != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, convErr, "tool conversion error")
		}
		req.Tools = tools
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCallsFromOllama(response.Message.ToolCalls)
	}
	return result, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertMessagesToOllama maps roles one to one; Ollama accepts "tool"
// messages carrying the call id.
func convertMessagesToOllama(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		out := api.Message{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == llm.RoleTool {
			out.ToolCallID = msg.ToolCallID
		}
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			args, err := decodeArguments(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("tool call %s: %w", tc.Name, err)
			}
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		result = append(result, out)
	}
	return result, nil
}

func decodeArguments(raw string) (api.ToolCallFunctionArguments, error) {
	args := api.NewToolCallFunctionArguments()
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

// convertToolsToOllama goes through JSON so nested schemas and the
// SDK's ordered property maps are handled by the SDK's own decoder.
func convertToolsToOllama(defs []llm.ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := def.Parameters
		if schema.Type == "" {
			schema.Type = "object"
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		var params api.ToolFunctionParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func convertToolCallsFromOllama(calls []api.ToolCall) []llm.ToolCall {
	result := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		args := "{}"
		if raw, err := json.Marshal(call.Function.Arguments); err == nil && string(raw) != "null" {
			args = string(raw)
		}
		result[i] = llm.ToolCall{ID: id, Name: call.Function.Name, Arguments: args}
	}
	return result
}

func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.Classify(err, 0, "ollama")
	}
}
