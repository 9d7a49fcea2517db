package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "aitel",
	Short: "Telemetry logger and live viewer for ML training runs",
	Long: `aitel records and inspects telemetry for machine-learning training runs.

The training process appends structured events (start, step, epoch, checkpoint,
eval, control changes) to an append-only metrics.jsonl per run, mirrored to
CSV. The viewer commands tail those files, flag training issues, and adjust
the logging interval through a polled control file.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aitel %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
