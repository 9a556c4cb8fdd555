// Package google adapts the Gemini API to llm.LLMClient.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
)

// Gemini content roles.
const (
	roleUser  = "user"
	roleModel = "model"
)

// GeminiClient wraps the Google GenAI client.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
	mu     sync.Mutex
}

// NewGeminiClientWithModel creates a raw Gemini client; middleware is applied by the factory.
// The SDK client needs a context, so it is created on first use.
func NewGeminiClientWithModel(apiKey, model string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // value receiver matches the interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.sdk(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	temperature := in.Temperature
	//nolint:gosec // bounded at the gateway
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertToolsToGemini(in.Tools)}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: toolMode(in.ToolChoice)},
		}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, 0, "gemini")
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	response := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		response.ToolCalls = convertFunctionCallsFromGemini(calls)
	}
	if result.UsageMetadata != nil {
		response.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return response, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

func toolMode(choice string) genai.FunctionCallingConfigMode {
	switch choice {
	case llm.ToolChoiceRequired:
		return genai.FunctionCallingConfigModeAny
	case llm.ToolChoiceNone:
		return genai.FunctionCallingConfigModeNone
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

// convertMessagesToGemini returns the contents and the joined system instruction.
// Tool results become FunctionResponse parts named after the tool, which is
// how Gemini pairs them with calls.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content

		case llm.RoleUser:
			if msg.Content != "" {
				contents = append(contents, &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: msg.Content}}})
			}

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := tc.Params()
				if err != nil {
					return nil, "", err
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: roleModel, Parts: parts})
			}

		case llm.RoleTool:
			if msg.Name == "" {
				return nil, "", fmt.Errorf("tool result %q has no tool name", msg.ToolCallID)
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content},
			}}
			// Consecutive tool results share one user turn.
			if n := len(contents); n > 0 && contents[n-1].Role == roleUser && contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: roleUser, Parts: []*genai.Part{part}})
			}

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, systemInstruction, nil
}

func convertToolsToGemini(defs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.Parameters.Properties))
		for name, prop := range def.Parameters.Properties {
			properties[name] = convertProperty(prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.Parameters.Required,
			},
		}
	}
	return declarations
}

func convertProperty(prop llm.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description, Enum: prop.Enum}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(*prop.Items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			for name, child := range prop.Properties {
				schema.Properties[name] = convertProperty(child)
			}
			schema.Required = prop.Required
		}
	default:
		schema.Type = genai.TypeString
	}
	return schema
}

// convertFunctionCallsFromGemini falls back to the function name as the call
// id because Gemini does not always assign ids.
func convertFunctionCallsFromGemini(calls []*genai.FunctionCall) []llm.ToolCall {
	toolCalls := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call == nil {
			continue
		}
		id := call.ID
		if id == "" {
			id = call.Name
		}
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:        id,
			Name:      call.Name,
			Arguments: llm.ArgumentsFromMap(call.Args),
		})
	}
	return toolCalls
}

func stopReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return "unknown"
	}
	if reason := result.Candidates[0].FinishReason; reason != "" {
		return string(reason)
	}
	return "end_turn"
}
