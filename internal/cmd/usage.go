package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// newUsageCmd lists an account's recent usage events, newest first.
func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <email>",
		Short: "List recent usage events for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			configPath := resolveConfigPath(cmd, nil, "pixelmint.json")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			db, err := store.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			defer db.Close()

			ctx := context.Background()
			a, err := db.GetAccountByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get account: %w", err)
			}
			if a == nil {
				return fmt.Errorf("no account with email %s", args[0])
			}

			events, err := db.ListUsageEvents(ctx, a.ID, limit, 0)
			if err != nil {
				return fmt.Errorf("list usage events: %w", err)
			}

			w := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintf(w, "%s  %-12s  %s\n",
					ev.CreatedAt.Format(time.RFC3339), ev.Kind, ev.Detail)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "maximum number of events to show")
	return cmd
}
