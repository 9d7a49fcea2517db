package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

func TestControlCommand_Registration(t *testing.T) {
	if !commandRegistered("control") {
		t.Error("expected 'control' command to be registered")
	}
}

func TestControlCommand_RejectsLogEveryBelowOne(t *testing.T) {
	seedConfig(t)
	orig := controlLogEvery
	defer func() { controlLogEvery = orig }()

	for _, v := range []int{0, -5} {
		controlLogEvery = v
		err := controlCmd.RunE(controlCmd, []string{"some-run"})
		if err == nil {
			t.Fatalf("expected error for --log-every %d", v)
		}
		if !strings.Contains(err.Error(), "--log-every must be at least 1") {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestControlCommand_WritesControlFile(t *testing.T) {
	logsDir := seedConfig(t)
	orig := controlLogEvery
	defer func() { controlLogEvery = orig }()

	runDir := filepath.Join(logsDir, "run-a")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("creating run dir: %v", err)
	}

	controlLogEvery = 25
	if err := controlCmd.RunE(controlCmd, []string{"run-a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(runDir, telemetry.ControlFileName))
	if err != nil {
		t.Fatalf("reading control file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("parsing control file: %v", err)
	}
	if payload["log_every"] != float64(25) {
		t.Errorf("expected log_every 25, got %v", payload["log_every"])
	}
	if _, ok := payload["timestamp"].(float64); !ok {
		t.Errorf("expected float timestamp, got %T", payload["timestamp"])
	}
}

func TestControlCommand_MissingRunDir(t *testing.T) {
	seedConfig(t)
	orig := controlLogEvery
	defer func() { controlLogEvery = orig }()

	controlLogEvery = 10
	if err := controlCmd.RunE(controlCmd, []string{"absent-run"}); err == nil {
		t.Error("expected error when the run directory does not exist")
	}
}
