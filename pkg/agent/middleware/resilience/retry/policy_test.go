package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"proxie/pkg/agent/llm"
	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/agent/middleware/resilience/circuit"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), false},
		{"per-call timeout", fmt.Errorf("http: %w", context.DeadlineExceeded), true},
		{"auth", &llmerrors.Error{Type: llmerrors.ErrorTypeAuth}, false},
		{"wrapped bad prompt", fmt.Errorf("call: %w", &llmerrors.Error{Type: llmerrors.ErrorTypeBadPrompt}), false},
		{"exhausted", llmerrors.NewServiceUnavailableError(errors.New("x"), 3), false},
		{"rate limit", &llmerrors.Error{Type: llmerrors.ErrorTypeRateLimit}, true},
		{"open circuit", &circuit.Error{State: circuit.Open}, false},
		{"unclassified 401", errors.New("HTTP 401 Unauthorized"), false},
		{"unclassified 404", errors.New("404 Not Found"), false},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"unexpected", errors.New("something completely unexpected"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}, nil)

	want := map[int]time.Duration{1: 0, 2: time.Second, 3: 2 * time.Second, 4: 4 * time.Second, 10: 5 * time.Second}
	for attempt, d := range want {
		if got := p.CalculateDelay(attempt); got != d {
			t.Errorf("attempt %d: expected %v, got %v", attempt, d, got)
		}
	}

	p.Config.Jitter = true
	delay := p.CalculateDelay(2)
	if delay < 900*time.Millisecond || delay > 1100*time.Millisecond {
		t.Errorf("expected delay within ±10%% of 1s, got %v", delay)
	}
}

type flakyClient struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	if f.calls.Add(1) <= f.failures {
		return llm.CompletionResponse{}, f.err
	}
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (f *flakyClient) GetModelName() string { return "flaky" }

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRecovers(t *testing.T) {
	base := &flakyClient{failures: 2, err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")}
	client := Middleware(fastPolicy(3), nil)(base)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Content != "ok" || base.calls.Load() != 3 {
		t.Fatalf("expected ok after 3 calls, got %q after %d", resp.Content, base.calls.Load())
	}
}

func TestMiddlewareExhaustedBecomesServiceUnavailable(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "down")}
	client := Middleware(fastPolicy(2), nil)(base)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.IsServiceUnavailable(err) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	if base.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", base.calls.Load())
	}
}

func TestMiddlewareDoesNotRetryAuth(t *testing.T) {
	authErr := llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	base := &flakyClient{failures: 10, err: authErr}
	client := Middleware(fastPolicy(3), nil)(base)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, authErr) {
		t.Fatalf("expected auth error to pass through, got %v", err)
	}
	if base.calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", base.calls.Load())
	}
}
