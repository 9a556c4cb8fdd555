package gateway

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"

	"proxie/pkg/agent/llm"
)

// CachePrefix starts every completion cache key.
const CachePrefix = "llm_cache:"

type keyMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type keyDocument struct {
	Model    string               `json:"model"`
	Messages []keyMessage         `json:"messages"`
	Tools    []llm.ToolDefinition `json:"tools"`
}

// CacheKey derives the cache key for a completion: the blake3-256 of the
// canonical JSON of model, normalized messages and tools. Message fields that
// do not change the completion (tool names on results) are dropped.
func CacheKey(model string, messages []llm.CompletionMessage, tools []llm.ToolDefinition) string {
	doc := keyDocument{Model: model, Messages: make([]keyMessage, 0, len(messages)), Tools: tools}
	for i := range messages {
		m := &messages[i]
		doc.Messages = append(doc.Messages, keyMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	if doc.Tools == nil {
		doc.Tools = []llm.ToolDefinition{}
	}
	// Struct fields marshal in declaration order and map keys sorted, so the
	// encoding is canonical.
	b, err := json.Marshal(doc)
	if err != nil {
		b = []byte(model)
	}
	sum := blake3.Sum256(b)
	return CachePrefix + hex.EncodeToString(sum[:])
}
