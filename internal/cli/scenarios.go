package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/doktolib/loadgen/internal/config"
	"github.com/doktolib/loadgen/internal/output"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the available load scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := config.FromEnv(os.LookupEnv)
			catalog, err := loadCatalog(cmd, &cfg)
			if err != nil {
				return err
			}

			noColor, _ := cmd.Flags().GetBool("no-color")
			console := output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor})
			console.PrintScenarios(catalog.Profiles(), cfg.Scenario)
			return nil
		},
	}
}
