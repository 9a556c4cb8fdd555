// Package llm defines the provider-neutral completion types shared by the
// gateway, the provider adapters and the middleware chain.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompletionRole is the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
	RoleTool      CompletionRole = "tool"
)

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

const (
	DefaultMaxTokens = 1500

	// TemperatureDefault suits conversational turns.
	TemperatureDefault = 0.7

	// TemperatureDeterministic is used for structured extraction.
	TemperatureDeterministic = 0.0
)

// Property is a JSON-Schema property.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// Schema is the JSON-Schema object describing tool parameters.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is a tool as declared to the model: {name, description, parameters}.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// ToolCall is a model-issued call. Arguments is a JSON-encoded object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Params decodes Arguments. Empty arguments decode to an empty map.
func (c ToolCall) Params() (map[string]any, error) {
	params := map[string]any{}
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" || raw == "null" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", c.Name, err)
	}
	return params, nil
}

// ArgumentsFromMap encodes params as a tool-call argument string.
func ArgumentsFromMap(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// CompletionMessage is one message of a completion request.
// Tool messages carry ToolCallID and Name of the call they answer.
type CompletionMessage struct {
	Role       CompletionRole `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// CompletionRequest is a provider-neutral completion request.
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
}

// Usage is token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// CompletionResponse is a provider-neutral completion.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// LLMClient is implemented by every provider adapter and middleware.
type LLMClient interface { //nolint:revive // established name
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

// NewCompletionRequest creates a request with default limits.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
		ToolChoice:  ToolChoiceAuto,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string, calls ...ToolCall) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func NewToolMessage(callID, name, content string) CompletionMessage {
	return CompletionMessage{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// LLMConfig configures a provider adapter.
type LLMConfig struct { //nolint:revive // established name
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}

// CallInfo attributes a completion for metrics and logs.
type CallInfo struct {
	Feature   string
	SessionID string
	UserID    string
}

type callInfoKey struct{}

// WithCallInfo attaches attribution to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the attribution on ctx, or the zero value.
func CallInfoFrom(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callInfoKey{}).(CallInfo)
	return info
}
