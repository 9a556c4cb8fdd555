// Package openaiofficial adapts the OpenAI Responses API to llm.LLMClient.
package openaiofficial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/config"
)

// OfficialClient wraps the official OpenAI Go client.
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw OpenAI client; middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string) *OfficialClient {
	return &OfficialClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// convertPropertyToSchema renders a property as a JSON-Schema map.
func convertPropertyToSchema(prop llm.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" {
		items := llm.Property{Type: "string"}
		if prop.Items != nil {
			items = *prop.Items
		}
		schema["items"] = convertPropertyToSchema(items)
	}
	if prop.Type == "object" && len(prop.Properties) > 0 {
		properties := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			properties[name] = convertPropertyToSchema(child)
		}
		schema["properties"] = properties
		if len(prop.Required) > 0 {
			schema["required"] = prop.Required
		}
	}
	return schema
}

func convertTools(defs []llm.ToolDefinition) []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]any, len(def.Parameters.Properties))
		for name, prop := range def.Parameters.Properties {
			properties[name] = convertPropertyToSchema(prop)
		}
		required := def.Parameters.Required
		if required == nil {
			required = []string{}
		}
		tools[i] = responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Strict:      openai.Bool(false),
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		}
	}
	return tools
}

// convertInput maps the transcript to Responses input items. System messages
// become the instructions string.
func convertInput(messages []llm.CompletionMessage) (string, responses.ResponseInputParam, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var instructions []string
	items := make(responses.ResponseInputParam, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			instructions = append(instructions, msg.Content)
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case llm.RoleAssistant:
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args := tc.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(args, tc.ID, tc.Name))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		default:
			return "", nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	return strings.Join(instructions, "\n\n"), items, nil
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // value receiver matches the interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, items, err := convertInput(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	maxTokens := in.MaxTokens
	if info, ok := config.KnownModels[o.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Temperature:     openai.Float(float64(in.Temperature)),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		params.Tools = convertTools(in.Tools)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, status, "openai")
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		toolCalls = append(toolCalls, llm.ToolCall{ID: call.CallID, Name: call.Name, Arguments: call.Arguments})
	}

	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.Status),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}
