package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/viewer"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List training runs under the logs directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := viewer.ListRuns(Cfg.LogDir)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Printf("No runs found under %s.\n", Cfg.LogDir)
			return nil
		}

		fmt.Printf("%d run(s):\n\n", len(runs))
		for _, run := range runs {
			fmt.Printf("  %-30s started %s\n", run.Name, run.StartTime)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}
