package llm

import "context"

// Middleware wraps an LLMClient with additional behavior.
type Middleware func(next LLMClient) LLMClient

type clientFunc struct {
	complete  func(context.Context, CompletionRequest) (CompletionResponse, error)
	modelName func() string
}

func (f clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f clientFunc) GetModelName() string {
	return f.modelName()
}

// WrapClient builds an LLMClient from plain functions. Middleware uses it.
func WrapClient(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	modelName func() string,
) LLMClient {
	return clientFunc{complete: complete, modelName: modelName}
}

// Chain composes middlewares around base; the first middleware is outermost.
//
//	Chain(client, mw1, mw2, mw3)  =>  mw1 -> mw2 -> mw3 -> client
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
