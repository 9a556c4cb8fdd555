// Package retry retries classified LLM failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/agent/middleware/resilience/circuit"
	"proxie/pkg/config"
)

// Config defines retry behavior. MaxAttempts includes the initial call.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultConfig keeps a waiting chat user in mind: three attempts, short delays.
//
//nolint:gochecknoglobals // default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// FromSettings converts the config file section.
func FromSettings(s config.RetryConfig) Config {
	cfg := Config{
		MaxAttempts:   s.MaxAttempts,
		InitialDelay:  s.InitialDelay.Std(),
		MaxDelay:      s.MaxDelay.Std(),
		BackoffFactor: s.BackoffFactor,
		Jitter:        s.Jitter,
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1
	}
	return cfg
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. It uses a blocklist: everything is
// retried except cancellation, open circuits, and errors that a second
// attempt cannot fix (auth, bad prompt, exhausted service).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	// Unclassified errors: refuse only obvious client faults.
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"400", "401", "403", "404", "unauthorized", "forbidden", "api key"} {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Classifier Classifier
	Config     Config
}

// NewPolicy creates a policy; a nil classifier selects ShouldRetry.
func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	return &Policy{Config: cfg, Classifier: classifier}
}

// CalculateDelay computes the wait before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	// ±10% jitter.
	if p.Config.Jitter && delay > 0 {
		delay += time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	}
	return delay
}

// ShouldRetry applies the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
