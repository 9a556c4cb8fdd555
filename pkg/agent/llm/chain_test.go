package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClient struct {
	content string
}

func (s staticClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{Content: s.content}, nil
}

func (s staticClient) GetModelName() string { return "static" }

func tagging(tag string, order *[]string) Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			*order = append(*order, tag)
			resp, err := next.Complete(ctx, req)
			resp.Content = tag + "(" + resp.Content + ")"
			return resp, err
		}, next.GetModelName)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	client := Chain(staticClient{content: "x"}, tagging("a", &order), tagging("b", &order))

	resp, err := client.Complete(context.Background(), NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "a(b(x))", resp.Content)
	assert.Equal(t, "static", client.GetModelName())
}

func TestChainWithoutMiddleware(t *testing.T) {
	base := staticClient{content: "plain"}
	assert.Equal(t, base, Chain(base))
}

func TestToolCallParams(t *testing.T) {
	call := ToolCall{ID: "1", Name: "get_offers", Arguments: `{"request_id":"r1","limit":3}`}
	params, err := call.Params()
	require.NoError(t, err)
	assert.Equal(t, "r1", params["request_id"])
	assert.InDelta(t, 3.0, params["limit"], 1e-9)

	empty, err := ToolCall{Name: "x"}.Params()
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ToolCall{Name: "bad", Arguments: "{"}.Params()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad"))
}

func TestArgumentsFromMap(t *testing.T) {
	assert.Equal(t, "{}", ArgumentsFromMap(nil))
	assert.JSONEq(t, `{"a":1}`, ArgumentsFromMap(map[string]any{"a": 1}))
}

func TestCallInfoRoundTrip(t *testing.T) {
	ctx := WithCallInfo(context.Background(), CallInfo{Feature: "extraction", SessionID: "s1"})
	assert.Equal(t, "extraction", CallInfoFrom(ctx).Feature)
	assert.Equal(t, CallInfo{}, CallInfoFrom(context.Background()))
}

func TestLLMConfigValidate(t *testing.T) {
	cfg := LLMConfig{APIKey: "k", ModelName: "m", MaxTokens: 10, Temperature: 0.5}
	require.NoError(t, cfg.Validate())
	cfg.Temperature = 3
	require.Error(t, cfg.Validate())
}
