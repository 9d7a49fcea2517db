package viewer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

// WriteControl overwrites the run's control mailbox with the given settings,
// stamping the write time so the trainer-side monitor can debounce. The file
// is written to a temp path and renamed so the reader never observes a
// partial mailbox.
func WriteControl(runDir string, settings map[string]any) error {
	payload := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		payload[k] = v
	}
	payload["timestamp"] = float64(time.Now().UnixNano()) / 1e9

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling control request: %w", err)
	}

	path := filepath.Join(runDir, telemetry.ControlFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing control file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing control file: %w", err)
	}
	return nil
}
