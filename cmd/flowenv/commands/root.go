package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	dbPath     string
	eventLevel string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "flowenv",
		Short: "flowenv - run flows packaged in container images",
		Long: `flowenv executes flows that were packaged into a Docker image.

Given a storage descriptor and the location of a flow, it checks that the flow
was packaged in a supported way, loads it, selects an executor and a runner
and runs it to completion. Failed runs are reported once and exit non-zero.

Run configuration is read from an optional CUE file (--config) and the
FLOWENV_FLOW_FILE_PATH, FLOWENV_EXECUTOR, FLOWENV_RUNNER and
FLOWENV_MAX_WORKERS environment variables.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !telemetry.ValidEventLevel(eventLevel) {
				return fmt.Errorf("invalid event level %q (info, warning, error)", eventLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "run configuration file (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database (SQLite), disabled when empty")
	rootCmd.PersistentFlags().StringVar(&eventLevel, "event-level", telemetry.EventLevelInfo, "lowest level of run events printed with --verbose")

	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
