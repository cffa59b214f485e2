package main

import (
	"context"
	"os/signal"
	"syscall"

	"freelancehub/internal/app"
	"freelancehub/internal/database"

	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the automation engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if serveMigrate {
			if err := database.AutoMigrate(a.DB); err != nil {
				return err
			}
		}
		return a.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "run schema migration before serving")
	rootCmd.AddCommand(serveCmd)
}
