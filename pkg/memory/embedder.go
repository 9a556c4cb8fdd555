package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"proxie/pkg/config"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ErrEmptyEmbedding is returned when the provider answers without a vector.
var ErrEmptyEmbedding = errors.New("embedding response carried no vector")

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for model using apiKey.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = config.DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// EmbedderFromConfig returns an embedder when embeddings are enabled and an
// OpenAI key is available, and nil otherwise.
func EmbedderFromConfig(cfg config.MemoryConfig) Embedder {
	if !cfg.Embeddings {
		return nil
	}
	key, err := config.GetAPIKey(config.ProviderOpenAI)
	if err != nil || key == "" {
		return nil
	}
	return NewOpenAIEmbedder(key, cfg.EmbeddingModel)
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}
