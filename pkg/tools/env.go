package tools

import "context"

// Env is the execution identity of a tool call.
type Env struct {
	SessionID    string
	ConsumerID   string
	ProviderID   string
	EnrollmentID string
	AuthID       string
	// RequestID is the request most recently posted in the session.
	RequestID string
}

type envKey struct{}

// WithEnv attaches env to ctx.
func WithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the Env on ctx, or the zero Env.
func EnvFrom(ctx context.Context) Env {
	env, _ := ctx.Value(envKey{}).(Env)
	return env
}
