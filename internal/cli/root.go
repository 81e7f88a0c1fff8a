package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree. Each call returns independent flag
// state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "loadgen",
		Short:   "Synthetic traffic generator for the appointment booking API",
		Version: version,
		Long: `loadgen simulates patients browsing doctors and booking appointments
against the booking API. Each worker runs randomized sessions paced to the
request rate of the selected scenario and aggregate statistics are
reported while the run lasts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	root.PersistentFlags().String("scenarios-file", "", "YAML file extending or overriding the scenario catalog")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd())
	root.AddCommand(newScenariosCmd())
	root.AddCommand(newServeStubCmd())
	return root
}

// Execute runs the root command and prints any error to stderr.
// This is called by main.Main(). It only needs to happen once to the RootCmd.
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
