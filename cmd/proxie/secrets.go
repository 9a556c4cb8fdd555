package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"proxie/pkg/config"
)

// passwordEnv unlocks the secrets file without a prompt.
const passwordEnv = "PROXIE_PASSWORD"

var errEmptyPassword = errors.New("password cannot be empty")

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage API keys in the encrypted secrets file",
	}

	set := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Store a secret (e.g. OPENAI_API_KEY)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if config.SecretsFileExists(opts.secretsDir) {
				if err := config.LoadSecrets(opts.secretsDir, password); err != nil {
					return fmt.Errorf("failed to unlock secrets: %w", err)
				}
			}
			config.SetSecret(args[0], args[1])
			if err := config.SaveSecretsToFile(opts.secretsDir, password); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔐 stored %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(opts.secretsDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "no secrets file")
				return nil
			}
			password, err := readPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := config.LoadSecrets(opts.secretsDir, password); err != nil {
				return fmt.Errorf("failed to unlock secrets: %w", err)
			}
			names := config.SecretNames()
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.AddCommand(set, list)
	return cmd
}

// readPassword takes the password from PROXIE_PASSWORD or prompts for it.
func readPassword(prompt io.Writer) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	fmt.Fprint(prompt, "Secrets password: ")
	raw, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", errEmptyPassword
	}
	return password, nil
}
