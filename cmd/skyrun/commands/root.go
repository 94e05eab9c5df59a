package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPaths []string
	verbose     bool
	jsonOutput  bool

	// logWriter, when set, receives the application log instead of the configured output.
	logWriter io.Writer
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skyrun",
		Short: "skyrun - observatory sequence execution engine",
		Long: `skyrun executes imaging sequences against an observatory.

A sequence is a tree of containers and instructions persisted as a YAML or JSON
plan. Containers run their children in order or in parallel, loop while their
conditions hold and fire triggers such as dithering or refocusing between
instructions. skyrun adds:
  - Policy checks (OPA/rego) before a plan starts
  - A reusable template library
  - A run history with per-instruction status transitions
  - An HTTP control API with a live event stream`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", nil, "config file path (repeat to layer files)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTemplatesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
