package toolloop

import (
	"fmt"

	"proxie/pkg/agent/llm"
	"proxie/pkg/tools"
)

// OutcomeKind categorizes the result of a toolloop execution.
type OutcomeKind int

const (
	// OutcomeSuccess indicates the model answered with text and no tool calls.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeIterationLimit indicates the model still asked for tools after
	// MaxRounds tool rounds. Content holds a graceful closing message.
	OutcomeIterationLimit

	// OutcomeDeadline indicates the turn context expired. The tool in flight
	// was allowed to finish; Content holds a graceful closing message.
	OutcomeDeadline

	// OutcomeLLMError indicates the completer failed. Err holds the cause.
	OutcomeLLMError
)

// String returns human-readable name for OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeIterationLimit:
		return "IterationLimit"
	case OutcomeDeadline:
		return "Deadline"
	case OutcomeLLMError:
		return "LLMError"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Execution is one tool call and its result.
type Execution struct {
	Call   llm.ToolCall
	Result tools.Result
}

// Outcome is the result of Run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Outcome struct {
	// Kind categorizes what happened during the loop.
	Kind OutcomeKind

	// Content is the final assistant text. Empty for OutcomeLLMError.
	Content string

	// Messages are the messages the loop produced, in order: assistant tool
	// calls, their tool results and the closing assistant message. The
	// caller appends them to the transcript.
	Messages []llm.CompletionMessage

	// Executions lists every executed tool call in execution order.
	Executions []Execution

	// Err is set for OutcomeLLMError and OutcomeDeadline.
	Err error

	// Rounds counts the tool rounds executed.
	Rounds int
}
