package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"proxie/pkg/tools"
)

// ServeStream reads line-delimited JSON-RPC messages from r and writes each
// reply as one line to w until r is exhausted or ctx ends. Local clients
// such as desktop assistants launch `proxie mcp --stdio` and talk this way.
func (s *Server) ServeStream(ctx context.Context, env tools.Env, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("mcp stream: %w", err)
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.HandleMessage(ctx, env, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("mcp stream write: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp stream read: %w", err)
	}
	return nil
}
