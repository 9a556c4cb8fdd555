// Package ratelimit keeps model calls under each provider's token and
// concurrency quotas.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proxie/pkg/agent/llmerrors"
	"proxie/pkg/config"
)

// BufferFactor keeps the bucket below the provider's advertised quota.
const BufferFactor = 0.9

// DefaultMaxWait bounds Acquire when the config leaves max_wait unset.
const DefaultMaxWait = 30 * time.Second

const pollInterval = 50 * time.Millisecond

// Throttle reasons reported to the release callback and metrics.
const (
	ReasonTokens      = "tokens"
	ReasonConcurrency = "concurrency"
)

// Limiter hands out token budget and concurrency slots.
type Limiter interface {
	// Acquire blocks until tokens and a slot are available. The returned
	// func releases the slot and must be called exactly once.
	Acquire(ctx context.Context, tokens int) (release func(), err error)
	Stats() Stats
}

// Stats is a snapshot of one limiter.
type Stats struct {
	Provider        string
	AvailableTokens int
	MaxCapacity     int
	ActiveRequests  int
	MaxConcurrency  int
	TokenLimitHits  int64
	ConcurrencyHits int64
}

var _ Limiter = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter is a token bucket refilled continuously at
// tokens_per_minute, combined with a counting semaphore.
//
//nolint:govet // fieldalignment: grouped by concern
type TokenBucketLimiter struct {
	mu       sync.Mutex
	provider string

	available   float64
	maxCapacity float64
	perSecond   float64
	lastRefill  time.Time

	active         int
	maxConcurrency int
	maxWait        time.Duration

	tokenLimitHits  int64
	concurrencyHits int64

	now    func() time.Time
	onWait func(reason string)
}

// NewTokenBucketLimiter creates a full bucket for provider. A zero
// TokensPerMinute or MaxConcurrency disables that limit.
func NewTokenBucketLimiter(provider string, cfg config.RateLimitConfig) *TokenBucketLimiter {
	maxWait := cfg.MaxWait.Std()
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	capacity := float64(cfg.TokensPerMinute) * BufferFactor
	return &TokenBucketLimiter{
		provider:       provider,
		available:      capacity,
		maxCapacity:    capacity,
		perSecond:      float64(cfg.TokensPerMinute) / 60,
		maxConcurrency: cfg.MaxConcurrency,
		maxWait:        maxWait,
		now:            time.Now,
		lastRefill:     time.Now(),
	}
}

// OnWait registers a callback invoked once per Acquire that had to wait,
// with the limit that caused it.
func (l *TokenBucketLimiter) OnWait(fn func(reason string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWait = fn
}

// Acquire takes tokens and a concurrency slot atomically. Requests larger
// than the bucket are clamped to its capacity so they cannot wait forever.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int) (func(), error) {
	deadline := l.now().Add(l.maxWait)
	waited := false

	for {
		reason, ok := l.tryAcquire(tokens)
		if ok {
			return l.releaseOnce(), nil
		}
		if !waited {
			waited = true
			l.recordWait(reason)
		}
		if !l.now().Before(deadline) {
			return nil, llmerrors.NewError(llmerrors.ErrorTypeRateLimit,
				fmt.Sprintf("%s rate limit: no %s available after %s", l.provider, reason, l.maxWait))
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for %s rate limit: %w", l.provider, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *TokenBucketLimiter) tryAcquire(tokens int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()

	if l.maxConcurrency > 0 && l.active >= l.maxConcurrency {
		return ReasonConcurrency, false
	}
	need := float64(tokens)
	if need > l.maxCapacity {
		need = l.maxCapacity
	}
	if l.maxCapacity > 0 && l.available < need {
		return ReasonTokens, false
	}
	if l.maxCapacity > 0 {
		l.available -= need
	}
	l.active++
	return "", true
}

func (l *TokenBucketLimiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	if elapsed <= 0 {
		return
	}
	l.available += elapsed * l.perSecond
	if l.available > l.maxCapacity {
		l.available = l.maxCapacity
	}
}

func (l *TokenBucketLimiter) recordWait(reason string) {
	l.mu.Lock()
	switch reason {
	case ReasonTokens:
		l.tokenLimitHits++
	case ReasonConcurrency:
		l.concurrencyHits++
	}
	fn := l.onWait
	l.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (l *TokenBucketLimiter) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.active > 0 {
				l.active--
			}
		})
	}
}

// Stats returns a snapshot after refilling.
func (l *TokenBucketLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return Stats{
		Provider:        l.provider,
		AvailableTokens: int(l.available),
		MaxCapacity:     int(l.maxCapacity),
		ActiveRequests:  l.active,
		MaxConcurrency:  l.maxConcurrency,
		TokenLimitHits:  l.tokenLimitHits,
		ConcurrencyHits: l.concurrencyHits,
	}
}

// ProviderLimiterMap holds one limiter per provider. Providers without a
// config entry are not limited.
type ProviderLimiterMap struct {
	limiters map[string]*TokenBucketLimiter
}

// NewProviderLimiterMap creates limiters for every configured provider.
func NewProviderLimiterMap(configs map[string]config.RateLimitConfig) *ProviderLimiterMap {
	m := &ProviderLimiterMap{limiters: make(map[string]*TokenBucketLimiter, len(configs))}
	for provider, cfg := range configs {
		if cfg.TokensPerMinute == 0 && cfg.MaxConcurrency == 0 {
			continue
		}
		m.limiters[provider] = NewTokenBucketLimiter(provider, cfg)
	}
	return m
}

// ForModel returns the limiter for a "<provider>/<model>" id, or nil.
func (m *ProviderLimiterMap) ForModel(modelID string) *TokenBucketLimiter {
	provider, _, err := config.ParseModelID(modelID)
	if err != nil {
		return nil
	}
	return m.limiters[provider]
}

// ForProvider returns the limiter for provider, or nil.
func (m *ProviderLimiterMap) ForProvider(provider string) *TokenBucketLimiter {
	return m.limiters[provider]
}

// AllStats returns stats keyed by provider.
func (m *ProviderLimiterMap) AllStats() map[string]Stats {
	out := make(map[string]Stats, len(m.limiters))
	for provider, l := range m.limiters {
		out[provider] = l.Stats()
	}
	return out
}
