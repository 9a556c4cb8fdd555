package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"proxie/pkg/orchestrator"
)

// chatOptions identify the terminal user.
type chatOptions struct {
	role       string
	sessionID  string
	consumerID string
	providerID string
	name       string
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	co := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Long: `Reads one message per line from stdin. A line starting with "/" is sent
as a button action, e.g. "/approve_request". Type /quit to leave.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return repl(cmd.Context(), a.orch, co, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&co.role, "role", "guest", "guest, consumer or provider")
	cmd.Flags().StringVar(&co.sessionID, "session", "", "resume a session (default: new)")
	cmd.Flags().StringVar(&co.consumerID, "consumer", "", "authenticated consumer id")
	cmd.Flags().StringVar(&co.providerID, "provider", "", "authenticated provider id")
	cmd.Flags().StringVar(&co.name, "name", "", "display name")
	return cmd
}

// repl runs turns for each input line until EOF or /quit.
func repl(ctx context.Context, turns turner, co *chatOptions, in io.Reader, out io.Writer) error {
	sessionID := co.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	fmt.Fprintf(out, "💬 session %s (role %s). /quit to exit.\n", sessionID, co.role)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err() //nolint:wrapcheck // stdin error passthrough
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		req := orchestrator.TurnRequest{
			SessionID:   sessionID,
			Role:        co.role,
			ConsumerID:  co.consumerID,
			ProviderID:  co.providerID,
			DisplayName: co.name,
		}
		if action, ok := strings.CutPrefix(line, "/"); ok {
			req.Action = action
		} else {
			req.Message = line
		}

		res, err := turns.HandleTurn(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "⚠️ %v\n", err)
			continue
		}
		printResult(out, res)
	}
}

// turner is the subset of the orchestrator the REPL drives.
type turner interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

func printResult(out io.Writer, res *orchestrator.TurnResult) {
	fmt.Fprintf(out, "🤖 %s\n", res.Message)
	if buttons, ok := res.Data["buttons"].([]orchestrator.Button); ok {
		for _, b := range buttons {
			fmt.Fprintf(out, "   [%s] /%s\n", b.Text, b.Action)
		}
	}
	if res.AwaitingApproval {
		fmt.Fprintln(out, "   (draft awaiting approval)")
	}
}
