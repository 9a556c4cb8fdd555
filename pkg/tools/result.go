package tools

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of one tool execution: either a JSON object value
// or an error message, never both.
type Result struct {
	value   map[string]any
	message string
	ok      bool
}

// OK wraps a successful value.
func OK(value map[string]any) Result {
	if value == nil {
		value = map[string]any{}
	}
	return Result{value: value, ok: true}
}

// Fail builds an error result.
func Fail(format string, args ...any) Result {
	return Result{message: fmt.Sprintf(format, args...)}
}

// FailErr builds an error result from err.
func FailErr(err error) Result {
	return Result{message: err.Error()}
}

// IsOK reports whether the tool succeeded.
func (r Result) IsOK() bool { return r.ok }

// Value returns the success payload, nil for errors.
func (r Result) Value() map[string]any { return r.value }

// Message returns the error message, "" for successes.
func (r Result) Message() string { return r.message }

// Content renders the result as the tool message the model sees.
func (r Result) Content() string {
	payload := r.value
	if !r.ok {
		payload = map[string]any{"error": r.message}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("unencodable tool result: %v", err)})
	}
	return string(b)
}

// objectOf converts a struct into its JSON object form.
func objectOf(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func objectsOf[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, objectOf(item))
	}
	return out
}
