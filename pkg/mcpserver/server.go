// Package mcpserver exposes the marketplace tools to MCP clients as
// JSON-RPC 2.0 over HTTP or a line-delimited stream.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"proxie/pkg/agent/llm"
	"proxie/pkg/logx"
	"proxie/pkg/tools"
	"proxie/pkg/version"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ArgConsumerID lets a client name the consumer a call acts for.
const ArgConsumerID = "consumer_id"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// ToolRunner executes registered tools. *tools.Registry implements it.
type ToolRunner interface {
	Get(name string) (tools.Tool, bool)
	Execute(ctx context.Context, name, argsJSON string) tools.Result
}

// Server answers MCP requests against a fixed tool set.
type Server struct {
	runner ToolRunner
	logger *logx.Logger
	tools  []string
}

// NewServer creates a server exposing names, or tools.ConsumerTools when
// names is empty. Unknown names are rejected.
func NewServer(runner ToolRunner, names []string, logger *logx.Logger) (*Server, error) {
	if logger == nil {
		logger = logx.NewLogger("mcp-server")
	}
	if len(names) == 0 {
		names = tools.ConsumerTools
	}
	for _, name := range names {
		if _, ok := runner.Get(name); !ok {
			return nil, fmt.Errorf("mcp: unknown tool %q", name)
		}
	}
	return &Server{runner: runner, logger: logger, tools: append([]string(nil), names...)}, nil
}

// Tools returns the exposed tool names.
func (s *Server) Tools() []string { return append([]string(nil), s.tools...) }

// Request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func result(id, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func failure(id any, code int, message, data string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// HandleMessage decodes one raw message and dispatches it. It returns nil
// for notifications.
func (s *Server) HandleMessage(ctx context.Context, env tools.Env, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(nil, CodeParseError, "Parse error", err.Error())
	}
	return s.Handle(ctx, env, &req)
}

// Handle dispatches req. env is the identity the transport authenticated;
// a consumer_id argument overrides its consumer.
func (s *Server) Handle(ctx context.Context, env tools.Env, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.ID == nil {
			return nil
		}
		return failure(req.ID, CodeInvalidRequest, "Invalid Request", "jsonrpc must be 2.0 and method set")
	}
	notification := req.ID == nil

	var resp *Response
	switch req.Method {
	case "initialize":
		resp = result(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "proxie", "version": version.Version},
		})
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		resp = result(req.ID, map[string]any{})
	case "tools/list":
		resp = result(req.ID, map[string]any{"tools": s.listTools()})
	case "tools/call":
		resp = s.callTool(ctx, env, req)
	default:
		resp = failure(req.ID, CodeMethodNotFound, "Method not found", req.Method)
	}
	if notification {
		return nil
	}
	return resp
}

func (s *Server) listTools() []map[string]any {
	out := make([]map[string]any, 0, len(s.tools))
	for _, name := range s.tools {
		tool, ok := s.runner.Get(name)
		if !ok {
			continue
		}
		def := tool.Definition()
		out = append(out, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": inputSchema(def.Parameters),
		})
	}
	return out
}

// inputSchema adds the optional consumer_id argument to the tool's own
// parameters.
func inputSchema(schema llm.Schema) map[string]any {
	props := make(map[string]any, len(schema.Properties)+1)
	for name, prop := range schema.Properties { //nolint:gocritic // rangeValCopy on small schemas
		props[name] = prop
	}
	props[ArgConsumerID] = llm.Property{Type: "string", Description: "Consumer the call acts for; defaults to the authenticated consumer"}

	out := map[string]any{"type": "object", "properties": props}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

func (s *Server) allowed(name string) bool {
	for _, n := range s.tools {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) callTool(ctx context.Context, env tools.Env, req *Request) *Response {
	var params struct {
		Arguments map[string]any `json:"arguments"`
		Name      string         `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}
	if !s.allowed(params.Name) {
		s.logger.Warn("🔧 MCP call to unexposed tool %q", params.Name)
		return failure(req.ID, CodeInvalidParams, "Tool not found", params.Name)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if id, ok := args[ArgConsumerID].(string); ok {
		if id = strings.TrimSpace(id); id != "" {
			env.ConsumerID = id
		}
		delete(args, ArgConsumerID)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return failure(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.logger.Info("🔧 MCP tool call: %s (consumer=%s)", params.Name, env.ConsumerID)
	res := s.runner.Execute(tools.WithEnv(ctx, env), params.Name, string(argsJSON))
	if !res.IsOK() {
		s.logger.Warn("🔧 MCP tool %s failed: %s", params.Name, res.Message())
	}

	// Tool failures are results the client reads, not protocol errors.
	return result(req.ID, map[string]any{
		"content":           []map[string]any{{"type": "text", "text": res.Content()}},
		"structuredContent": structured(res),
		"isError":           !res.IsOK(),
	})
}

func structured(res tools.Result) map[string]any {
	if res.IsOK() {
		return res.Value()
	}
	return map[string]any{"error": res.Message()}
}
