package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook diagnostics",
	}
	cmd.AddCommand(webhookTestCmd())
	return cmd
}

func webhookTestCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test report to the configured webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			settings := webhookSettings(cfg)
			hook := webhook.New(settings)

			payload := map[string]interface{}{
				"title":       "wagate webhook test",
				"description": message,
				"category":    "test",
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			out := hook.DeliverWithRetry(ctx, payload, settings.Retries)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Success {
				reason := out.Error
				if reason == "" {
					reason = out.Reason
				}
				return fmt.Errorf("webhook delivery failed: %s", reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "ping from wagate", "description sent in the test payload")
	return cmd
}
