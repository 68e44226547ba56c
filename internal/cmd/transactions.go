package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// newTransactionsCmd lists an account's purchase transactions and their
// settlement state.
func newTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transactions <email>",
		Short: "List purchase transactions for an account",
		Args:  cobra.ExactArgs(1),
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

			ctx := context.Background()
			a, err := db.GetAccountByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get account: %w", err)
			}
			if a == nil {
				return fmt.Errorf("no account with email %s", args[0])
			}

			txs, err := db.ListTransactionsByAccount(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("list transactions: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-36s  %-10s  %8s  %8s  %-9s  %s\n",
				"ID", "PLAN", "AMOUNT", "CREDITS", "STATE", "CREATED")
			for _, tx := range txs {
				state := "pending"
				if tx.Settled {
					state = "settled"
				}
				fmt.Fprintf(w, "%-36s  %-10s  %8d  %8d  %-9s  %s\n",
					tx.ID, tx.Plan, tx.Amount, tx.Credits, state, tx.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
