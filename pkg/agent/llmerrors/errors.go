// Package llmerrors classifies provider errors and carries the retry settings per class.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorType represents different categories of LLM errors for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content.
	ErrorTypeEmptyResponse

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests (too long, policy violation).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable is emitted once retries are exhausted or the
	// circuit is open. The gateway treats it as a signal to use the fallback model.
	ErrorTypeServiceUnavailable
)

// String returns the label used in logs and metrics.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// RetryConfig defines exponential backoff for one error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfigs is tuned for interactive chat: a user is waiting, so
// retries are few and short and the fallback model does the rest.
//
//nolint:gochecknoglobals // package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeEmptyResponse: {MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeRateLimit:     {MaxRetries: 2, InitialDelay: 1 * time.Second, MaxDelay: 8 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeTransient:     {MaxRetries: 2, InitialDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeAuth:          {MaxRetries: 0, BackoffFactor: 1.0},
	ErrorTypeBadPrompt:     {MaxRetries: 0, BackoffFactor: 1.0},
	ErrorTypeUnknown:       {MaxRetries: 1, InitialDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeServiceUnavailable: {MaxRetries: 0, BackoffFactor: 1.0},
}

// Error is a classified LLM error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
		}
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the retry middleware should try again.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// GetRetryConfig returns the retry configuration for this error type.
func (e *Error) GetRetryConfig() RetryConfig {
	if cfg, ok := DefaultRetryConfigs[e.Type]; ok {
		return cfg
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// IsServiceUnavailable reports persistent unavailability of a model.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// NewServiceUnavailableError wraps the last cause once retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

var statusPattern = regexp.MustCompile(`(?i)(?:status(?: code)?:?|http|code|error)\s*(\d{3})\b`)

// StatusFromMessage extracts an HTTP status code embedded in an SDK error string.
func StatusFromMessage(msg string) int {
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// ClassifyStatus maps an HTTP status to an error type. ok is false for
// statuses that carry no classification.
func ClassifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == 401 || status == 403:
		return ErrorTypeAuth, true
	case status == 429:
		return ErrorTypeRateLimit, true
	case status == 400 || status == 404 || status == 413 || status == 422:
		return ErrorTypeBadPrompt, true
	case status >= 500 && status <= 599:
		return ErrorTypeTransient, true
	}
	return ErrorTypeUnknown, false
}

// Classify turns an arbitrary provider error into an *Error. Already classified
// errors pass through unchanged. status is the HTTP status when the SDK exposes
// one, or 0 to fall back to parsing the message.
func Classify(err error, status int, provider string) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request canceled")
	}

	msg := err.Error()
	if status == 0 {
		status = StatusFromMessage(msg)
	}
	if t, ok := ClassifyStatus(status); ok {
		return &Error{Type: t, StatusCode: status, Err: err, Message: provider + " returned status " + strconv.Itoa(status)}
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset", "unavailable", "overloaded"):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" network or connection error")
	case containsAny(lower, "rate", "quota", "resource exhausted", "too many requests"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, provider+" rate limiting detected")
	case containsAny(lower, "unauthorized", "api key", "permission", "auth"):
		return NewErrorWithCause(ErrorTypeAuth, err, provider+" authentication error")
	case containsAny(lower, "invalid", "malformed", "too large", "context length"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, provider+" prompt or request error")
	}
	return NewErrorWithCause(ErrorTypeUnknown, err, provider+" unclassified error")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
