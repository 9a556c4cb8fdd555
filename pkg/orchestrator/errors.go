package orchestrator

import (
	"errors"

	"proxie/pkg/gateway"
)

// Turn errors surfaced to the transport. Every other failure is absorbed
// into the reply.
var (
	// ErrInvalidRequest means the turn request itself is malformed.
	ErrInvalidRequest = errors.New("invalid chat request")
	// ErrDeadline means the turn ran out of time. The session was saved.
	ErrDeadline = errors.New("turn deadline exceeded")
	// ErrBudgetExceeded and ErrModelFailed alias the gateway sentinels.
	ErrBudgetExceeded = gateway.ErrBudgetExceeded
	ErrModelFailed    = gateway.ErrModelFailed
)

// Reply texts for surfaced failures.
const (
	ModelFailedMessage = "Sorry, I'm having trouble connecting right now. Please try again in a moment."
)
