package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/viewer"
)

var issuesCmd = &cobra.Command{
	Use:   "issues <run>",
	Short: "Detect training issues for a run",
	Long: `Inspect the most recent step records of a run and report advisory issues:
NaN/Inf losses, loss plateaus, exploding gradients, low GPU utilization, and
potential overfitting. These signals are for a human operator; they never
alter the training process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsPath := filepath.Join(Cfg.LogDir, args[0], "metrics.jsonl")
		records, err := viewer.LoadRun(metricsPath)
		if err != nil {
			return fmt.Errorf("loading run %s: %w", args[0], err)
		}
		if len(records) == 0 {
			return fmt.Errorf("run %s has no records", args[0])
		}

		issues := viewer.DetectIssues(records, Cfg.Issues)
		if len(issues) == 0 {
			fmt.Println("No issues detected.")
			return nil
		}

		fmt.Printf("%d issue(s):\n\n", len(issues))
		for _, issue := range issues {
			fmt.Printf("  [%s] %s\n", strings.ToUpper(string(issue.Severity)), issue.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(issuesCmd)
}
