// Package cmd implements the pixelmint command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for pixelmint.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "pixelmint",
		Short: "Credit-metered AI image generation and moderation service",
		Long:  "Pixelmint meters image generation and moderation against per-account credit balances, funded through payment-processor checkouts.",
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newGrantCmd())
	root.AddCommand(newAccountsCmd())
	root.AddCommand(newTransactionsCmd())
	root.AddCommand(newUsageCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
