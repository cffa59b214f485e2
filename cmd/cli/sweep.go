package main

import (
	"context"
	"fmt"

	"freelancehub/internal/app"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one scheduler tick (due rules, due campaigns, expired contracts) and exit",
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

		report := a.Engine.Tick(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "rules run: %d\ncampaigns run: %d\ncontracts expired: %d\n",
			report.RulesRun, report.CampaignsRun, report.ContractsExpired)
		for _, e := range report.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", e)
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("%d sweep(s) failed", len(report.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
