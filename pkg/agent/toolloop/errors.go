package toolloop

import "errors"

var (
	// ErrNoCompleter indicates Run was called without a Completer.
	ErrNoCompleter = errors.New("toolloop: completer is required")

	// ErrNoExecutor indicates Run was called without an Executor.
	ErrNoExecutor = errors.New("toolloop: executor is required")

	// ErrSkipped is the tool result recorded for calls left unexecuted when
	// the turn deadline expired mid-round.
	ErrSkipped = errors.New("skipped: turn deadline exceeded")
)
