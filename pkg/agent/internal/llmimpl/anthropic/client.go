// Package anthropic adapts the Claude Messages API to llm.LLMClient.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
)

// ClaudeClient wraps the Anthropic API client.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client; middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string) *ClaudeClient {
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

type blockKind int

const (
	blockText blockKind = iota
	blockToolUse
	blockToolResult
)

// block is the provider-neutral intermediate form of one content block.
type block struct {
	input map[string]any
	text  string
	id    string
	name  string
	kind  blockKind
}

// turn is one message in the strictly alternating user/assistant sequence.
type turn struct {
	role   llm.CompletionRole
	blocks []block
}

// ensureAlternation extracts system messages and folds the rest into the
// strict user/assistant alternation the Messages API requires. Tool results
// travel as tool_result blocks inside user turns; consecutive same-role
// messages are merged.
func ensureAlternation(messages []llm.CompletionMessage) (string, []turn, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var turns []turn
	push := func(role llm.CompletionRole, b block) {
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, b)
			return
		}
		turns = append(turns, turn{role: role, blocks: []block{b}})
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleUser:
			if strings.TrimSpace(msg.Content) != "" {
				push(llm.RoleUser, block{kind: blockText, text: msg.Content})
			}
		case llm.RoleAssistant:
			if strings.TrimSpace(msg.Content) != "" {
				push(llm.RoleAssistant, block{kind: blockText, text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				input, err := tc.Params()
				if err != nil {
					return "", nil, err
				}
				push(llm.RoleAssistant, block{kind: blockToolUse, id: tc.ID, name: tc.Name, input: input})
			}
		case llm.RoleTool:
			push(llm.RoleUser, block{kind: blockToolResult, id: msg.ToolCallID, text: msg.Content})
		default:
			return "", nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	if len(turns) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if turns[0].role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", turns[0].role)
	}
	if last := turns[len(turns)-1]; last.role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.role)
	}
	return strings.Join(systemParts, "\n\n"), turns, nil
}

func toMessageParams(turns []turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		content := make([]anthropic.ContentBlockParamUnion, 0, len(t.blocks))
		for _, b := range t.blocks {
			switch b.kind {
			case blockText:
				content = append(content, anthropic.NewTextBlock(b.text))
			case blockToolUse:
				content = append(content, anthropic.NewToolUseBlock(b.id, b.input, b.name))
			case blockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.id, b.text, strings.Contains(b.text, `"error"`)))
			}
		}
		if t.role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func toTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters.Properties,
				Required:   def.Parameters.Required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // value receiver matches the interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, turns, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message alternation error")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    toMessageParams(turns),
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		params.Tools = toTools(in.Tools)
		if in.ToolChoice == llm.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, status, "anthropic")
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		blk := &resp.Content[i]
		switch blk.Type {
		case "text":
			text.WriteString(blk.AsText().Text)
		case "tool_use":
			use := blk.AsToolUse()
			args := string(use.Input)
			if !json.Valid(use.Input) {
				args = "{}"
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: use.ID, Name: use.Name, Arguments: args})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}
