package cli

import (
	"strings"
	"testing"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/config"
)

func TestInitCommand_Registration(t *testing.T) {
	if !commandRegistered("init") {
		t.Error("expected 'init' command to be registered")
	}
}

func TestInitCommand_WritesLoadableDefaults(t *testing.T) {
	seedConfig(t)
	dir := t.TempDir()
	t.Chdir(dir)

	if err := initCmd.RunE(initCmd, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fileExists(t, "aitel.yaml") {
		t.Fatal("expected aitel.yaml to be written")
	}

	// The generated file must round-trip through the loader as defaults.
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("loading generated config: %v", err)
	}
	defaults := config.Default()
	if cfg.LogDir != defaults.LogDir {
		t.Errorf("expected default log dir %q, got %q", defaults.LogDir, cfg.LogDir)
	}
	if cfg.Issues != defaults.Issues {
		t.Errorf("expected default issue thresholds, got %+v", cfg.Issues)
	}
}

func TestInitCommand_RefusesOverwrite(t *testing.T) {
	seedConfig(t)
	t.Chdir(t.TempDir())

	if err := initCmd.RunE(initCmd, []string{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	err := initCmd.RunE(initCmd, []string{})
	if err == nil {
		t.Fatal("expected error when aitel.yaml already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error: %v", err)
	}
}
