// Package toolloop runs the bounded model/tool exchange of one turn: call the
// model, execute every requested tool in order, feed the results back, and
// stop on text, the round limit or the turn deadline.
package toolloop

import (
	"context"
	"errors"
	"time"

	"proxie/pkg/agent/llm"
	"proxie/pkg/gateway"
	"proxie/pkg/logx"
	"proxie/pkg/tools"
)

// DefaultMaxRounds bounds tool rounds when Config.MaxRounds is unset.
const DefaultMaxRounds = 5

// Closing messages for turns that end without a model answer.
const (
	IterationLimitMessage = "I'm having trouble completing that right now. Could you rephrase or try again?"
	DeadlineMessage       = "Sorry, that took longer than expected. Your conversation is saved, so please try again."
)

// Completer is the model side of the loop.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error)
}

// Executor runs one tool call.
type Executor interface {
	Execute(ctx context.Context, name, argsJSON string) tools.Result
}

// Config defines one run.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	Completer Completer
	Executor  Executor

	// Request is the template for every model call. Its Messages are the
	// conversation so far; the loop appends to a private copy.
	Request gateway.Request

	// OnResult, when set, observes each tool result as it is produced.
	OnResult func(call llm.ToolCall, res tools.Result)

	// MaxRounds bounds tool rounds. Zero selects DefaultMaxRounds.
	MaxRounds int
}

// ToolLoop runs tool loops.
type ToolLoop struct {
	logger *logx.Logger
}

// New creates a ToolLoop. A nil logger selects the package logger.
func New(logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{logger: logger}
}

// Run executes the loop. It never returns partial tool rounds: every
// recorded tool call has a matching tool result.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) Outcome {
	if cfg.Completer == nil {
		return Outcome{Kind: OutcomeLLMError, Err: ErrNoCompleter}
	}
	if cfg.Executor == nil {
		return Outcome{Kind: OutcomeLLMError, Err: ErrNoExecutor}
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	history := make([]llm.CompletionMessage, len(cfg.Request.Messages))
	copy(history, cfg.Request.Messages)
	out := Outcome{}

	for {
		req := cfg.Request
		req.Messages = history

		start := time.Now()
		resp, err := cfg.Completer.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				tl.logger.Warn("⏰ Turn deadline reached during model call after %d rounds", out.Rounds)
				return tl.close(out, OutcomeDeadline, DeadlineMessage, ctx.Err())
			}
			tl.logger.Error("❌ Model call failed after %.3gs: %v", time.Since(start).Seconds(), err)
			out.Kind = OutcomeLLMError
			out.Err = err
			return out
		}
		tl.logger.Debug("✅ Model call completed in %.3gs, %d chars, %d tool calls",
			time.Since(start).Seconds(), len(resp.Content), len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			return tl.close(out, OutcomeSuccess, resp.Content, nil)
		}
		if out.Rounds >= maxRounds {
			tl.logger.Warn("🔁 Tool round limit %d reached", maxRounds)
			return tl.close(out, OutcomeIterationLimit, IterationLimitMessage, nil)
		}

		// Text alongside tool calls is discarded.
		assistant := llm.NewAssistantMessage("", resp.ToolCalls...)
		history = append(history, assistant)
		out.Messages = append(out.Messages, assistant)
		out.Rounds++

		expired := false
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			var res tools.Result
			if expired || (i > 0 && ctx.Err() != nil) {
				expired = true
				res = tools.FailErr(ErrSkipped)
			} else {
				res = cfg.Executor.Execute(ctx, call.Name, call.Arguments)
				out.Executions = append(out.Executions, Execution{Call: call, Result: res})
				if cfg.OnResult != nil {
					cfg.OnResult(call, res)
				}
			}
			msg := llm.NewToolMessage(call.ID, call.Name, res.Content())
			history = append(history, msg)
			out.Messages = append(out.Messages, msg)
		}
		if expired || ctx.Err() != nil {
			tl.logger.Warn("⏰ Turn deadline reached after %d rounds", out.Rounds)
			cause := ctx.Err()
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return tl.close(out, OutcomeDeadline, DeadlineMessage, cause)
		}
	}
}

func (tl *ToolLoop) close(out Outcome, kind OutcomeKind, content string, err error) Outcome {
	out.Kind = kind
	out.Content = content
	out.Err = err
	out.Messages = append(out.Messages, llm.NewAssistantMessage(content))
	return out
}

// IsDeadline reports whether err is a context expiry.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
