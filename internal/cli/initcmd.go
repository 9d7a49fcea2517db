package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/config"
)

// defaultConfigFile mirrors the viper keys in internal/config.
type defaultConfigFile struct {
	LogDir  string `yaml:"log_dir"`
	Control struct {
		PollSeconds     int `yaml:"poll_seconds"`
		DebounceSeconds int `yaml:"debounce_seconds"`
	} `yaml:"control"`
	Issues       any `yaml:"issues"`
	Integrations struct {
		ScalarMirror bool `yaml:"scalar_mirror"`
		Tracker      struct {
			Enabled  bool   `yaml:"enabled"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"tracker"`
	} `yaml:"integrations"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default aitel.yaml in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		defaults := config.Default()
		var file defaultConfigFile
		file.LogDir = defaults.LogDir
		file.Issues = defaults.Issues

		data, err := yaml.Marshal(file)
		if err != nil {
			return fmt.Errorf("marshalling default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("Wrote %s.\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
