package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/config"
	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

// seedConfig points the CLI globals at a throwaway logs directory and
// restores the originals when the test ends. Returns the logs root.
func seedConfig(t *testing.T) string {
	t.Helper()
	origCfg, origLog := Cfg, Log
	t.Cleanup(func() {
		Cfg = origCfg
		Log = origLog
	})

	Cfg = config.Default()
	Cfg.LogDir = t.TempDir()
	Log = zerolog.Nop()
	return Cfg.LogDir
}

// seedRun writes a run directory with a start record followed by the given
// step records.
func seedRun(t *testing.T, logsDir, runName string, steps []map[string]any) {
	t.Helper()
	sink, err := telemetry.OpenSink(filepath.Join(logsDir, runName))
	if err != nil {
		t.Fatalf("opening sink: %v", err)
	}
	defer sink.Close()

	now := time.Now()
	start := telemetry.NewRecord(telemetry.EventStart, now, map[string]any{"run_name": runName})
	if err := sink.Append(start); err != nil {
		t.Fatalf("appending start record: %v", err)
	}
	for i, fields := range steps {
		fields["global_step"] = i + 1
		rec := telemetry.NewRecord(telemetry.EventStep, now.Add(time.Duration(i+1)*time.Second), fields)
		if err := sink.Append(rec); err != nil {
			t.Fatalf("appending step record %d: %v", i, err)
		}
	}
}

func commandRegistered(name string) bool {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == name {
			return true
		}
	}
	return false
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", path, err)
	}
	return err == nil
}
