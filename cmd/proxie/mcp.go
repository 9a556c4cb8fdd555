package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"proxie/pkg/mcpserver"
	"proxie/pkg/tools"
)

type mcpOptions struct {
	addr       string
	toolList   string
	consumerID string
	stdio      bool
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	mo := &mcpOptions{}
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the consumer marketplace tools to MCP clients",
		Long: "Serves create_service_request, get_offers, accept_offer and the other consumer tools " +
			"as an MCP server over HTTP (POST /mcp, bearer mcp.api_key) or, with --stdio, over stdin/stdout.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if mo.addr != "" {
				cfg.MCP.Addr = mo.addr
			}
			if mo.toolList != "" {
				cfg.MCP.Tools = splitList(mo.toolList)
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcpserver.NewServer(a.tools, cfg.MCP.Tools, nil)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if mo.stdio {
				env := tools.Env{SessionID: uuid.NewString(), ConsumerID: mo.consumerID}
				return srv.ServeStream(ctx, env, cmd.InOrStdin(), cmd.OutOrStdout()) //nolint:wrapcheck // already wrapped
			}
			return serveMCP(ctx, a, srv)
		},
	}
	cmd.Flags().StringVar(&mo.addr, "addr", "", "listen address (overrides mcp.addr)")
	cmd.Flags().StringVar(&mo.toolList, "tools", "", "comma-separated tools to expose (default: consumer tools)")
	cmd.Flags().BoolVar(&mo.stdio, "stdio", false, "speak line-delimited JSON-RPC on stdin/stdout instead of HTTP")
	cmd.Flags().StringVar(&mo.consumerID, "consumer", "", "consumer id for --stdio calls that name none")
	return cmd
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func serveMCP(ctx context.Context, a *app, srv *mcpserver.Server) error {
	if a.cfg.MCP.APIKey == "" {
		a.logger.Warn("⚠️ mcp.api_key is empty; MCP tools are open to anyone who can reach %s", a.cfg.MCP.Addr)
	}
	h := mcpserver.NewHTTPServer(srv, a.cfg.MCP.APIKey)

	errCh := make(chan error, 1)
	go func() { errCh <- h.Start(a.cfg.MCP.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down MCP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	return nil
}
