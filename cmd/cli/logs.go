package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"freelancehub/internal/app"
	"freelancehub/internal/services"

	"github.com/spf13/cobra"
)

var (
	logsRule   uint
	logsStatus string
	logsLimit  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show automation audit log entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		filter := services.LogFilter{Status: logsStatus, Limit: logsLimit}
		if cmd.Flags().Changed("rule") {
			filter.RuleID = &logsRule
		}
		entries, total, err := a.Engine.Service().ListLogs(ctx, filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tRULE\tSOURCE\tEVENT\tSTATUS\tDURATION\tMESSAGE")
		for _, e := range entries {
			rule := "-"
			if e.RuleID != nil {
				rule = fmt.Sprint(*e.RuleID)
			}
			msg := e.Message
			if e.Error != "" {
				msg = e.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), rule, e.Source, e.EventType, e.Status, e.DurationMs, msg)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", len(entries), total)
		return nil
	},
}

func init() {
	logsCmd.Flags().UintVar(&logsRule, "rule", 0, "only entries of this rule id")
	logsCmd.Flags().StringVar(&logsStatus, "status", "", "SUCCESS or FAILED")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum entries")
	rootCmd.AddCommand(logsCmd)
}
