// Package tools implements the model-callable marketplace tools, their
// per-role availability and the structured data they surface to clients.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"proxie/pkg/agent/llm"
	"proxie/pkg/logx"
	"proxie/pkg/session"
	"proxie/pkg/utils"
)

// Tool is one model-callable operation.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string
	// Definition returns the schema declared to the model.
	Definition() llm.ToolDefinition
	// Exec runs the tool. Failures are error results, never panics.
	Exec(ctx context.Context, args Args) Result
}

// Args are decoded tool-call arguments.
type Args map[string]any

// String returns a trimmed string argument.
func (a Args) String(key string) string { return utils.String(a, key) }

// Float returns a numeric argument; numeric strings are accepted.
func (a Args) Float(key string) (float64, bool) { return utils.FloatArg(a, key) }

// Object returns a JSON object argument.
func (a Args) Object(key string) map[string]any {
	m, _ := utils.SafeAssert[map[string]any](a[key])
	return m
}

// Has reports whether key carries a non-empty value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Registry holds the tools available to the orchestrator.
type Registry struct {
	tools  map[string]Tool
	logger *logx.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logx.NewLogger("tools"),
	}
}

// Register adds a tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Allowed reports whether role may call name.
func (r *Registry) Allowed(role session.Role, name string) bool {
	for _, n := range ToolsForRole(role) {
		if n == name {
			_, ok := r.Get(name)
			return ok
		}
	}
	return false
}

// Definitions returns the schemas of role's registered tools in their
// declared order.
func (r *Registry) Definitions(role session.Role) []llm.ToolDefinition {
	names := ToolsForRole(role)
	out := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			out = append(out, t.Definition())
		}
	}
	return out
}

// Execute runs name with JSON-encoded arguments. Unknown tools, malformed
// arguments, missing required parameters and panics become error results.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (res Result) {
	tool, ok := r.Get(name)
	if !ok {
		return Fail("Unknown function: %s", name)
	}

	params, err := llm.ToolCall{Name: name, Arguments: argsJSON}.Params()
	if err != nil {
		return FailErr(err)
	}
	args := Args(params)
	for _, req := range tool.Definition().Parameters.Required {
		if !args.Has(req) {
			return Fail("missing required parameter: %s", req)
		}
	}

	logger := logx.FromContext(ctx, "tools")
	defer func() {
		if p := recover(); p != nil {
			logger.Error("💥 Tool %s panicked: %v\n%s", name, p, debug.Stack())
			res = Fail("tool %s failed unexpectedly", name)
		}
	}()

	start := time.Now()
	res = tool.Exec(ctx, args)
	if res.IsOK() {
		logger.Debug("🔧 %s completed in %s", name, time.Since(start).Round(time.Millisecond))
	} else {
		logger.Warn("🔧 %s failed in %s: %s", name, time.Since(start).Round(time.Millisecond), res.Message())
	}
	return res
}
