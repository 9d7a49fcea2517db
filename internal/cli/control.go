package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/viewer"
)

var controlLogEvery int

var controlCmd = &cobra.Command{
	Use:   "control <run>",
	Short: "Request a logging-settings change for a running trainer",
	Long: `Write the run's control file to request a settings change. The trainer polls
the file and applies the request after a 30 second debounce window, so rapid
successive edits are not applied mid-edit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if controlLogEvery < 1 {
			return fmt.Errorf("--log-every must be at least 1, got %d", controlLogEvery)
		}

		runDir := filepath.Join(Cfg.LogDir, args[0])
		if err := viewer.WriteControl(runDir, map[string]any{"log_every": controlLogEvery}); err != nil {
			return fmt.Errorf("writing control request: %w", err)
		}

		fmt.Printf("Requested log_every=%d for run %s (applies after debounce).\n", controlLogEvery, args[0])
		return nil
	},
}

func init() {
	controlCmd.Flags().IntVar(&controlLogEvery, "log-every", 0, "log a step record every N steps")
	_ = controlCmd.MarkFlagRequired("log-every")
	rootCmd.AddCommand(controlCmd)
}
