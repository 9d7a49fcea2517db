// Package config loads the aitel configuration file with Viper, falling back
// to defaults when no file is present.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/viewer"
)

// ConfigFileName is the base name of the configuration file (aitel.yaml).
const ConfigFileName = "aitel"

// Config is the merged aitel configuration.
type Config struct {
	// LogDir is the logs root holding one directory per run.
	LogDir string

	// Control timing overrides, in seconds. Zero keeps the built-in 2s poll
	// floor and 30s debounce.
	ControlPollSeconds     int
	ControlDebounceSeconds int

	// Issues tunes the windowed issue detector.
	Issues viewer.IssueThresholds

	// Integrations toggles the optional external mirrors.
	Integrations IntegrationsConfig
}

// IntegrationsConfig enables the optional external integrations.
type IntegrationsConfig struct {
	ScalarMirror bool
	Tracker      TrackerConfig
}

// TrackerConfig configures the run-tracking service client.
type TrackerConfig struct {
	Enabled  bool
	Endpoint string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogDir: "./logs",
		Issues: viewer.DefaultIssueThresholds(),
	}
}

// Load reads aitel.yaml from basePath. A missing file returns defaults;
// a malformed one is an error.
func Load(basePath string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(basePath)

	v.SetDefault("log_dir", cfg.LogDir)
	v.SetDefault("control.poll_seconds", cfg.ControlPollSeconds)
	v.SetDefault("control.debounce_seconds", cfg.ControlDebounceSeconds)
	v.SetDefault("issues.window", cfg.Issues.Window)
	v.SetDefault("issues.plateau_window", cfg.Issues.PlateauWindow)
	v.SetDefault("issues.plateau_std_frac", cfg.Issues.PlateauStdFrac)
	v.SetDefault("issues.plateau_min_mean", cfg.Issues.PlateauMinMean)
	v.SetDefault("issues.max_grad_norm", cfg.Issues.MaxGradNorm)
	v.SetDefault("issues.min_gpu_mem_gib", cfg.Issues.MinGPUMemGiB)
	v.SetDefault("issues.overfit_ratio", cfg.Issues.OverfitRatio)
	v.SetDefault("issues.overfit_samples", cfg.Issues.OverfitSamples)
	v.SetDefault("integrations.scalar_mirror", cfg.Integrations.ScalarMirror)
	v.SetDefault("integrations.tracker.enabled", cfg.Integrations.Tracker.Enabled)
	v.SetDefault("integrations.tracker.endpoint", cfg.Integrations.Tracker.Endpoint)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading aitel config: %w", err)
	}

	cfg.LogDir = v.GetString("log_dir")
	cfg.ControlPollSeconds = v.GetInt("control.poll_seconds")
	cfg.ControlDebounceSeconds = v.GetInt("control.debounce_seconds")
	cfg.Issues.Window = v.GetInt("issues.window")
	cfg.Issues.PlateauWindow = v.GetInt("issues.plateau_window")
	cfg.Issues.PlateauStdFrac = v.GetFloat64("issues.plateau_std_frac")
	cfg.Issues.PlateauMinMean = v.GetFloat64("issues.plateau_min_mean")
	cfg.Issues.MaxGradNorm = v.GetFloat64("issues.max_grad_norm")
	cfg.Issues.MinGPUMemGiB = v.GetFloat64("issues.min_gpu_mem_gib")
	cfg.Issues.OverfitRatio = v.GetFloat64("issues.overfit_ratio")
	cfg.Issues.OverfitSamples = v.GetInt("issues.overfit_samples")
	cfg.Integrations.ScalarMirror = v.GetBool("integrations.scalar_mirror")
	cfg.Integrations.Tracker.Enabled = v.GetBool("integrations.tracker.enabled")
	cfg.Integrations.Tracker.Endpoint = v.GetString("integrations.tracker.endpoint")

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the detector or the control
// channel cannot work with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.LogDir == "" {
		return fmt.Errorf("log_dir must not be empty")
	}
	if cfg.Issues.Window < 1 {
		return fmt.Errorf("issues.window must be positive, got %d", cfg.Issues.Window)
	}
	if cfg.Issues.PlateauWindow < 2 {
		return fmt.Errorf("issues.plateau_window must be at least 2, got %d", cfg.Issues.PlateauWindow)
	}
	if cfg.Issues.OverfitSamples < 1 {
		return fmt.Errorf("issues.overfit_samples must be positive, got %d", cfg.Issues.OverfitSamples)
	}
	if cfg.Integrations.Tracker.Enabled && cfg.Integrations.Tracker.Endpoint == "" {
		return fmt.Errorf("integrations.tracker.endpoint must be set when the tracker is enabled")
	}
	if cfg.ControlPollSeconds < 0 || cfg.ControlDebounceSeconds < 0 {
		return fmt.Errorf("control timings must be non-negative")
	}
	return nil
}
