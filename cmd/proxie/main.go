// Command proxie runs the conversational marketplace agent: the chat API
// server, a terminal chat client and operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proxie/pkg/config"
	"proxie/pkg/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	secretsDir string
	mock       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "proxie",
		Short:         "Proxie conversational marketplace agent",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigFile, "path to the JSON config file")
	root.PersistentFlags().StringVar(&opts.secretsDir, "secrets-dir", ".", "directory holding .proxie/secrets.json.enc")
	root.PersistentFlags().BoolVar(&opts.mock, "mock", false, "use the scripted mock model for every call")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newUsageCmd(opts),
		newCacheCmd(opts),
		newSecretsCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
