// Package telemetry provides best-effort structured logging for machine
// learning training runs. Events are appended to a JSONL file (the source of
// truth) and mirrored to a schema-evolving CSV, with optional forwarding to
// external integrations. Telemetry must never abort a training run: every
// failure inside this package is reported as a diagnostic and swallowed.
package telemetry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the dependencies and settings for a RunLogger.
type Config struct {
	// RunName identifies the run; its directory is <LogDir>/<RunName>.
	RunName string
	// LogDir is the logs root. Defaults to "./logs".
	LogDir string
	// Sampler captures system metrics per step. Defaults to the gopsutil
	// sampler with accelerator auto-detection.
	Sampler Sampler
	// Integrations are optional external mirrors, each independently
	// best-effort.
	Integrations []ExternalIntegration
	// Logger receives diagnostics for swallowed failures.
	Logger zerolog.Logger
}

// RunLogger is the telemetry entry point held by the training process: one
// method per event kind, each synchronous and durable before returning.
// Exactly one process per run may hold a RunLogger; a second writer would
// race the CSV schema rewrite.
type RunLogger struct {
	runName string
	runID   string
	runDir  string

	sink         *Sink
	sampler      Sampler
	integrations []ExternalIntegration
	control      *ControlMonitor
	log          zerolog.Logger

	now func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewRunLogger creates the run directory (and parents) if absent and opens
// the sink. No separate initialize call is needed before the first Log call.
func NewRunLogger(cfg Config) (*RunLogger, error) {
	if cfg.RunName == "" {
		return nil, fmt.Errorf("creating run logger: run name is empty")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewSystemSampler(DetectAccelerator())
	}

	runDir := filepath.Join(cfg.LogDir, cfg.RunName)
	sink, err := OpenSink(runDir)
	if err != nil {
		return nil, fmt.Errorf("creating run logger: %w", err)
	}

	l := &RunLogger{
		runName:      cfg.RunName,
		runID:        uuid.NewString(),
		runDir:       runDir,
		sink:         sink,
		sampler:      cfg.Sampler,
		integrations: cfg.Integrations,
		control:      NewControlMonitor(runDir, cfg.Logger),
		log:          cfg.Logger,
		now:          time.Now,
	}

	l.log.Info().
		Str("run", cfg.RunName).
		Str("jsonl", sink.JSONLPath()).
		Str("csv", sink.CSVPath()).
		Msg("telemetry started")
	return l, nil
}

// RunDir returns the directory holding this run's files.
func (l *RunLogger) RunDir() string { return l.runDir }

// RunID returns the unique id generated for this run.
func (l *RunLogger) RunID() string { return l.runID }

// LogStart records the run configuration. The four maps are merged flat into
// the record in argument order, later keys overwriting earlier ones.
func (l *RunLogger) LogStart(config, loraConfig, modelInfo, trainingInfo map[string]any) {
	fields := map[string]any{
		"run_name": l.runName,
		"run_id":   l.runID,
	}
	for _, m := range []map[string]any{config, loraConfig, modelInfo, trainingInfo} {
		for k, v := range m {
			fields[k] = v
		}
	}
	l.emit(EventStart, fields)
}

// LogStep records per-step training metrics, enriched with a system snapshot
// and the inline anomaly flag. This is the hot path: the only I/O is the
// durable local append plus any enabled integrations, each guarded.
func (l *RunLogger) LogStep(globalStep, epoch int, metrics map[string]any) {
	fields := make(map[string]any, len(metrics)+6)
	fields["global_step"] = globalStep
	fields["epoch"] = epoch
	for k, v := range metrics {
		fields[k] = v
	}
	for k, v := range l.sampler.Sample() {
		fields[k] = v
	}
	for k, v := range detectAnomalies(metrics) {
		fields[k] = v
	}
	l.emit(EventStep, fields)
}

// LogEpoch records epoch-end metrics.
func (l *RunLogger) LogEpoch(epoch int, metrics map[string]any) {
	fields := make(map[string]any, len(metrics)+1)
	fields["epoch"] = epoch
	for k, v := range metrics {
		fields[k] = v
	}
	l.emit(EventEpoch, fields)
}

// LogCheckpoint records a checkpoint save.
func (l *RunLogger) LogCheckpoint(globalStep int, checkpointPath string, isBest bool) {
	l.emit(EventCheckpoint, map[string]any{
		"global_step":     globalStep,
		"checkpoint_path": checkpointPath,
		"is_best":         isBest,
	})
}

// LogEval records evaluation metrics. Keys are namespaced with an "eval/"
// prefix so they cannot collide with training metrics of the same name.
func (l *RunLogger) LogEval(globalStep int, metrics map[string]any) {
	fields := make(map[string]any, len(metrics)+1)
	fields["global_step"] = globalStep
	for k, v := range metrics {
		fields["eval/"+k] = v
	}
	l.emit(EventEval, fields)
}

// LogControlChange records an applied control-channel settings change.
func (l *RunLogger) LogControlChange(oldValue, newValue any, source string) {
	if source == "" {
		source = "dashboard"
	}
	l.emit(EventControlChange, map[string]any{
		"old":    oldValue,
		"new":    newValue,
		"source": source,
	})
}

// Control returns the run's control monitor.
func (l *RunLogger) Control() *ControlMonitor { return l.control }

// CheckControlFile polls the control channel. See ControlMonitor.Check.
func (l *RunLogger) CheckControlFile() *ControlRequest {
	return l.control.Check()
}

// AckControl acknowledges an applied control request so later polls stop
// returning it.
func (l *RunLogger) AckControl(req *ControlRequest) {
	l.control.Ack(req)
}

// emit assembles the record, writes it through the sink, and forwards it to
// each enabled integration. Every failure is reported and swallowed; emit
// never propagates an error to the training loop.
func (l *RunLogger) emit(event string, fields map[string]any) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn().Str("event", event).Msg("telemetry event after close, dropped")
		return
	}
	l.mu.Unlock()

	rec := NewRecord(event, l.now(), fields)

	if err := l.sink.Append(rec); err != nil {
		l.log.Error().Err(err).Str("event", event).Msg("writing metrics log")
	}
	if err := l.sink.Mirror(rec); err != nil {
		l.log.Error().Err(err).Str("event", event).Msg("writing csv mirror")
	}

	for _, integ := range l.integrations {
		if err := integ.LogRecord(rec); err != nil {
			l.log.Warn().Err(err).
				Str("integration", integ.Name()).
				Str("event", event).
				Msg("forwarding to integration")
		}
	}
}

// Close releases the sink and finalizes integrations. Calling it again is a
// no-op.
func (l *RunLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if err := l.sink.Close(); err != nil {
		firstErr = err
	}
	for _, integ := range l.integrations {
		if err := integ.Close(); err != nil {
			l.log.Warn().Err(err).Str("integration", integ.Name()).Msg("closing integration")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunNameFromConfig derives a run name from a training config, preferring a
// nested config.name, then a top-level name, then a timestamped fallback.
func RunNameFromConfig(cfg map[string]any) string {
	if nested, ok := cfg["config"].(map[string]any); ok {
		if name, ok := nested["name"].(string); ok && name != "" {
			return name
		}
	}
	if name, ok := cfg["name"].(string); ok && name != "" {
		return name
	}
	return "run-" + time.Now().Format("20060102_150405")
}
