package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"proxie/pkg/metrics"
	"proxie/pkg/persistence"
	"proxie/pkg/usage"
)

type usageOptions struct {
	sessionID  string
	userID     string
	since      time.Duration
	limit      int
	prometheus string
	asJSON     bool
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	uo := &usageOptions{}
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report LLM calls, tokens and cost",
		Long: `Reports usage from the local ledger, optionally narrowed to a session or
user. With --prometheus the counters are read from a Prometheus server instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uo.prometheus != "" {
				return promUsage(cmd.Context(), uo, cmd.OutOrStdout())
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, ops, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return ledgerUsage(cmd.Context(), usage.NewSQLiteLedger(ops, usage.Limits{}), uo, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&uo.sessionID, "session", "", "only this session")
	cmd.Flags().StringVar(&uo.userID, "user", "", "only this user")
	cmd.Flags().DurationVar(&uo.since, "since", 0, "only calls newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&uo.limit, "limit", 20, "number of recent calls to list")
	cmd.Flags().StringVar(&uo.prometheus, "prometheus", "", "Prometheus base URL")
	cmd.Flags().BoolVar(&uo.asJSON, "json", false, "print JSON")
	return cmd
}

func ledgerUsage(ctx context.Context, ledger usage.Ledger, uo *usageOptions, out io.Writer) error {
	filter := persistence.UsageFilter{UserID: uo.userID, SessionID: uo.sessionID, Limit: uo.limit}
	if uo.since > 0 {
		filter.Since = time.Now().Add(-uo.since)
	}
	totals, err := ledger.Totals(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to read usage totals: %w", err)
	}
	records, err := ledger.Records(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to read usage records: %w", err)
	}

	if uo.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		//nolint:wrapcheck // encoder error passthrough
		return enc.Encode(map[string]any{"totals": totals, "records": records})
	}

	fmt.Fprintf(out, "📊 %d calls, %d prompt + %d completion tokens, $%.4f\n",
		totals.Calls, totals.PromptTokens, totals.CompletionTokens, totals.CostUSD)
	if len(records) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tMODEL\tFEATURE\tSESSION\tTOKENS\tCOST")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.4f\n",
			r.CreatedAt.Format(time.DateTime), r.Model, r.Feature, r.SessionID,
			r.PromptTokens+r.CompletionTokens, r.CostUSD)
	}
	return w.Flush() //nolint:wrapcheck // writer error passthrough
}

func promUsage(ctx context.Context, uo *usageOptions, out io.Writer) error {
	q, err := metrics.NewQueryService(uo.prometheus)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	total, err := q.GetUsage(ctx, metrics.Selector{})
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	byModel, err := q.GetUsageByModel(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}

	if uo.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		//nolint:wrapcheck // encoder error passthrough
		return enc.Encode(map[string]any{"total": total, "by_model": byModel})
	}

	fmt.Fprintf(out, "📊 %d requests (%d errors), %d tokens, $%.4f\n",
		total.Requests, total.Errors, total.TotalTokens, total.TotalCost)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREQUESTS\tERRORS\tTOKENS\tCOST")
	for _, m := range byModel {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n", m.Model, m.Requests, m.Errors, m.TotalTokens, m.TotalCost)
	}
	return w.Flush() //nolint:wrapcheck // writer error passthrough
}
