package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pixelmint-ai/pixelmint/internal/wizard"
	"github.com/pixelmint-ai/pixelmint/pkg/cli"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			defaults, _ := cmd.Flags().GetBool("defaults")

			w := wizard.New(cli.DefaultPrompter())
			if defaults {
				return w.RunDefaults(output)
			}
			return w.Run(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./pixelmint.json)")
	cmd.Flags().Bool("defaults", false, "generate config non-interactively using env vars and secure defaults")
	return cmd
}
