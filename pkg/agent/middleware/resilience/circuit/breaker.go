// Package circuit stops calling a model that keeps failing, so the gateway
// can fail over to the fallback without waiting on timeouts.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"proxie/pkg/config"
)

// State represents the current state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines circuit breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig opens after five consecutive failures and probes after 30s.
//
//nolint:gochecknoglobals // default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
}

// FromSettings converts the config file section, falling back to defaults
// for unset fields.
func FromSettings(s config.CircuitBreakerConfig) Config {
	cfg := Config{
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
		Timeout:          s.Timeout.Std(),
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return cfg
}

// Error is returned without calling the model while the circuit is open.
type Error struct {
	Model string
	State State
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("circuit breaker is %s", e.State)
	}
	return fmt.Sprintf("circuit breaker for %s is %s", e.Model, e.State)
}

// Breaker is the circuit breaker contract used by the middleware.
type Breaker interface {
	Allow() bool
	Record(success bool)
	GetState() State
	Reset()
}

// StateChangeFunc observes transitions, e.g. for logging.
type StateChangeFunc func(from, to State)

type breaker struct {
	lastFailure   time.Time
	onStateChange StateChangeFunc
	now           func() time.Time
	config        Config
	failures      int
	successes     int
	state         State
	mu            sync.Mutex
}

// New creates a closed circuit breaker.
func New(cfg Config, onChange StateChangeFunc) Breaker {
	return &breaker{config: cfg, state: Closed, onStateChange: onChange, now: time.Now}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) >= b.config.Timeout {
			b.transition(HalfOpen)
			b.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transition(Closed)
				b.failures = 0
				b.successes = 0
			}
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case Closed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
		b.successes = 0
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
	b.failures = 0
	b.successes = 0
}

// transition must be called with mu held.
func (b *breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
