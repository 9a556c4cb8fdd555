// Package utils holds small helpers shared across packages: token
// estimation and loose value coercion for model-produced JSON.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts. Every provider is approximated with
// the cl100k encoding, which is close enough for usage estimates.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. The model name only selects the
// encoding family; unknown models use the default.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, or a 4-chars-per-token
// estimate if the codec is unavailable.
func (tc *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.codec == nil {
		return estimate(text)
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return estimate(text)
	}
	return count
}

func estimate(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

//nolint:gochecknoglobals // shared codec, built once
var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// CountTokensSimple counts tokens with a shared default counter.
func CountTokensSimple(text string) int {
	defaultCounterOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter("default")
	})
	return defaultCounter.CountTokens(text)
}

// TruncateToTokenLimit cuts text so it fits roughly within limit tokens.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	return text[:charLimit] + "..."
}
