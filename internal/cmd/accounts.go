package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// newAccountsCmd lists every account with its credit balance. Operator use
// only, like grant.
func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts and credit balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			accounts, err := db.ListAccounts(context.Background())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-36s  %-30s  %8s  %s\n", "ID", "EMAIL", "CREDITS", "CREATED")
			for _, a := range accounts {
				fmt.Fprintf(w, "%-36s  %-30s  %8d  %s\n",
					a.ID, a.Email, a.CreditBalance, a.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
