package ollama

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
)

func makeToolCallArgs(m map[string]any) api.ToolCallFunctionArguments {
	args := api.NewToolCallFunctionArguments()
	for k, v := range m {
		args.Set(k, v)
	}
	return args
}

func TestNewOllamaClientWithModel(t *testing.T) {
	client := NewOllamaClientWithModel("http://gpu-box:11434", "llama3.1")
	assert.Equal(t, "llama3.1", client.GetModelName())
	assert.Equal(t, "http://gpu-box:11434", client.hostURL)

	fallback := NewOllamaClientWithModel("::not a url", "llama3.1")
	assert.Equal(t, DefaultHost, fallback.hostURL)
}

func TestConvertMessagesToOllama(t *testing.T) {
	msgs, err := convertMessagesToOllama([]llm.CompletionMessage{
		llm.NewSystemMessage("You are a concierge"),
		llm.NewUserMessage("any offers?"),
		llm.NewAssistantMessage("", llm.ToolCall{ID: "call_1", Name: "get_offers", Arguments: `{"request_id":"r1"}`}),
		llm.NewToolMessage("call_1", "get_offers", `{"offers":[]}`),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, "assistant", msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	raw, err := json.Marshal(msgs[2].ToolCalls[0].Function.Arguments)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"r1"}`, string(raw))

	assert.Equal(t, "tool", msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)

	_, err = convertMessagesToOllama(nil)
	require.Error(t, err)
	_, err = convertMessagesToOllama([]llm.CompletionMessage{{Role: "narrator"}})
	require.Error(t, err)
}

func TestConvertToolsToOllama(t *testing.T) {
	tools, err := convertToolsToOllama([]llm.ToolDefinition{{
		Name:        "update_preferences",
		Description: "Save preferences",
		Parameters: llm.Schema{
			Properties: map[string]llm.Property{
				"timing": {Type: "string", Enum: []string{"asap", "flexible"}},
			},
			Required: []string{"timing"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "update_preferences", tools[0].Function.Name)
	assert.Equal(t, "object", tools[0].Function.Parameters.Type)
	assert.Equal(t, []string{"timing"}, tools[0].Function.Parameters.Required)

	raw, err := json.Marshal(tools[0].Function.Parameters)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"asap"`)
}

func TestConvertToolCallsFromOllama(t *testing.T) {
	calls := convertToolCallsFromOllama([]api.ToolCall{
		{ID: "call_abc", Function: api.ToolCallFunction{Name: "get_offers", Arguments: makeToolCallArgs(map[string]any{"request_id": "r1"})}},
		{Function: api.ToolCallFunction{Name: "get_consumer_profile", Arguments: makeToolCallArgs(nil)}},
	})
	require.Len(t, calls, 2)
	assert.Equal(t, "call_abc", calls[0].ID)
	assert.JSONEq(t, `{"request_id":"r1"}`, calls[0].Arguments)
	assert.Equal(t, "call_1", calls[1].ID)
}

func TestGetStopReason(t *testing.T) {
	assert.Equal(t, "incomplete", getStopReason(&api.ChatResponse{}))
	assert.Equal(t, "end_turn", getStopReason(&api.ChatResponse{Done: true, DoneReason: "stop"}))
	assert.Equal(t, "max_tokens", getStopReason(&api.ChatResponse{Done: true, DoneReason: "length"}))
}

func TestClassifyError(t *testing.T) {
	assert.True(t, llmerrors.Is(classifyError(errors.New("dial tcp: connection refused")), llmerrors.ErrorTypeTransient))
	assert.True(t, llmerrors.Is(classifyError(errors.New(`model "x" not found`)), llmerrors.ErrorTypeBadPrompt))
	assert.NoError(t, classifyError(nil))
}
