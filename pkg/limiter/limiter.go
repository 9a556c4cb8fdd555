// Package limiter rate limits chat clients with per-client token buckets.
package limiter

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimit is returned when a client has no tokens left this minute.
var ErrRateLimit = errors.New("rate limit exceeded")

// DefaultPerMinute is the chat allowance per client.
const DefaultPerMinute = 30

// idleAfter is how long an untouched full bucket is kept.
const idleAfter = 10 * time.Minute

// Limiter hands out a fixed number of requests per minute to each client key
// (API key or remote address).
type Limiter struct {
	clients   map[string]*bucket
	now       func() time.Time
	mu        sync.Mutex
	perMinute int
	lastSweep time.Time
}

// bucket refills to capacity once per elapsed minute.
//
//nolint:govet // Struct layout optimization not critical for this use case
type bucket struct {
	lastRefill time.Time
	lastSeen   time.Time
	tokens     int
}

// New creates a limiter allowing perMinute requests per client. Values <= 0
// use DefaultPerMinute.
func New(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Limiter{
		clients:   make(map[string]*bucket),
		now:       time.Now,
		perMinute: perMinute,
	}
}

// Allow takes one token for client. It returns ErrRateLimit when the bucket
// is empty.
func (l *Limiter) Allow(client string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.clients[client]
	if !ok {
		b = &bucket{tokens: l.perMinute, lastRefill: now}
		l.clients[client] = b
	}
	b.lastSeen = now
	l.refill(b, now)

	if b.tokens <= 0 {
		return ErrRateLimit
	}
	b.tokens--
	return nil
}

// Remaining reports the tokens client has left without consuming one.
func (l *Limiter) Remaining(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		return l.perMinute
	}
	l.refill(b, l.now())
	return b.tokens
}

// RetryAfter is the time until client's next refill.
func (l *Limiter) RetryAfter(client string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		return 0
	}
	wait := b.lastRefill.Add(time.Minute).Sub(l.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	b.tokens += minutes * l.perMinute
	if b.tokens > l.perMinute {
		b.tokens = l.perMinute
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

// sweep drops idle clients at most once per idle window. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleAfter {
		return
	}
	l.lastSweep = now
	for key, b := range l.clients {
		if now.Sub(b.lastSeen) >= idleAfter {
			delete(l.clients, key)
		}
	}
}
