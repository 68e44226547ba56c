package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pixelmint-ai/pixelmint/internal/config"
	"github.com/pixelmint-ai/pixelmint/internal/ledger"
	"github.com/pixelmint-ai/pixelmint/internal/store"
)

// newGrantCmd credits an account directly, bypassing checkout. Operator use
// only: refunds, promos, support cases.
func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <email> <credits>",
		Short: "Grant credits to an account by email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("credits must be a positive integer")
			}

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
			a, err := db.GetAccountByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("get account: %w", err)
			}
			if a == nil {
				return fmt.Errorf("no account with email %s", email)
			}

			balance, err := ledger.New(db).Credit(ctx, a.ID, amount)
			if err != nil {
				return fmt.Errorf("grant credits: %w", err)
			}

			if err := db.LogUsageEvent(ctx, &store.UsageEvent{
				ID:        uuid.New().String(),
				AccountID: a.ID,
				Kind:      "grant",
				Detail:    json.RawMessage(fmt.Sprintf(`{"credits":%d}`, amount)),
				CreatedAt: time.Now(),
			}); err != nil {
				fmt.Printf("warning: failed to record grant event: %v\n", err)
			}

			fmt.Printf("granted %d credits to %s (balance: %d)\n", amount, email, balance)
			return nil
		},
	}
}
