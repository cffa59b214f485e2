package main

import (
	"context"
	"encoding/json"
	"fmt"

	"freelancehub/internal/app"
	"freelancehub/internal/services"

	"github.com/spf13/cobra"
)

var emitPayload string

var emitCmd = &cobra.Command{
	Use:   "emit <EVENT_TYPE>",
	Short: "Publish an event and run the matching rules synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := services.EventType(args[0])
		if !services.IsKnownEvent(t) {
			return fmt.Errorf("unknown event type %q", args[0])
		}
		payload := map[string]interface{}{}
		if emitPayload != "" {
			if err := json.Unmarshal([]byte(emitPayload), &payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
		}

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

		a.Engine.EmitEvent(ctx, t, payload)
		fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s\n", t)
		return nil
	},
}

func init() {
	emitCmd.Flags().StringVarP(&emitPayload, "payload", "p", "", `event payload as JSON, e.g. '{"proposalId": 12}'`)
	rootCmd.AddCommand(emitCmd)
}
