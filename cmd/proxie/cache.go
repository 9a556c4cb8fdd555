package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proxie/pkg/gateway"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the LLM response cache",
	}

	var prefix string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached completions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.LLM.CacheBackend == "memory" {
				fmt.Fprintln(cmd.OutOrStdout(), "ℹ️ memory cache lives inside the server process; nothing to clear")
				return nil
			}
			db, ops, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			cfg.LLM.CacheEnabled = true
			gw := gateway.New(gateway.Options{Cache: gateway.NewSQLiteCache(ops), Config: cfg.LLM})
			n, err := gw.Invalidate(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🧹 removed %d cached entries\n", n)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&prefix, "prefix", gateway.CachePrefix, "key prefix to delete")
	cmd.AddCommand(clearCmd)
	return cmd
}
