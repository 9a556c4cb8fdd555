package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proxie/pkg/chatapi"
	"proxie/pkg/limiter"
	"proxie/pkg/tasks"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the API until ctx is cancelled, then drains async turns.
func serve(ctx context.Context, a *app) error {
	queue := tasks.New(tasks.Options{
		Workers:     a.cfg.Server.AsyncWorkers,
		TaskTimeout: 2 * a.cfg.Orchestrator.TurnTimeout.Std(),
	})
	srv, err := chatapi.New(chatapi.Options{
		Turns:   a.orch,
		Tasks:   queue,
		Limiter: limiter.New(a.cfg.Server.RateLimit),
		Health: map[string]chatapi.HealthChecker{
			"sessions": a.sessions,
			"ledger":   a.ledger,
		},
		Gatherer: a.registry,
		APIKey:   a.cfg.Server.ChatAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to build chat server: %w", err)
	}
	if a.cfg.Server.ChatAPIKey == "" {
		a.logger.Warn("⚠️ chat_api_key is empty; /chat is open to anyone who can reach %s", a.cfg.Server.Addr)
	}

	go runJanitor(ctx, a.logger, purgeInterval, a.purgers())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(a.cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down chat API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("chat server shutdown: %v", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		a.logger.Warn("async queue shutdown: %v", err)
	}
	return nil
}
