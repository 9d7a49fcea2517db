// Package viewer is the read side of the telemetry stream: it tails the
// JSONL files a training process appends, discovers runs, detects training
// issues over a recent window, and writes the control mailbox. It never
// appends to the metrics files.
package viewer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

// LoadRun reads every complete record from a metrics.jsonl file. Blank and
// malformed lines are skipped: a trailing partial line is expected while the
// writer is still appending and is not an error. A missing file yields no
// records.
func LoadRun(path string) ([]telemetry.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening metrics log: %w", err)
	}
	defer f.Close()

	var records []telemetry.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec telemetry.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // partial or corrupt line
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning metrics log: %w", err)
	}
	return records, nil
}

// Steps filters the stream down to step records, preserving order.
func Steps(records []telemetry.Record) []telemetry.Record {
	var steps []telemetry.Record
	for _, r := range records {
		if r.Event == telemetry.EventStep {
			steps = append(steps, r)
		}
	}
	return steps
}

// RunInfo summarizes one discovered run directory.
type RunInfo struct {
	Name        string
	MetricsPath string
	StartTime   string
	ConfigName  string
}

// ListRuns discovers runs under the logs root: every directory containing a
// metrics.jsonl with a start record. Results are sorted newest first.
func ListRuns(logsDir string) ([]RunInfo, error) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading logs directory: %w", err)
	}

	var runs []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metricsPath := filepath.Join(logsDir, entry.Name(), "metrics.jsonl")
		records, err := LoadRun(metricsPath)
		if err != nil || len(records) == 0 {
			continue
		}

		info := RunInfo{Name: entry.Name(), MetricsPath: metricsPath}
		for _, r := range records {
			if r.Event == telemetry.EventStart {
				info.StartTime = r.Timestamp
				if name, ok := r.Fields["config_name"].(string); ok {
					info.ConfigName = name
				}
				break
			}
		}
		if info.StartTime == "" {
			continue
		}
		runs = append(runs, info)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime > runs[j].StartTime
	})
	return runs, nil
}

// Smooth applies exponential moving average smoothing with the given alpha.
// An empty input is returned as-is.
func Smooth(values []float64, alpha float64) []float64 {
	if len(values) == 0 {
		return values
	}
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
