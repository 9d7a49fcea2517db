package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ControlFileName is the per-run mailbox file an external actor overwrites to
// request a settings change.
const ControlFileName = "control.json"

// Default timing for the control channel. The poll floor bounds filesystem
// reads when the monitor is checked on every training step; the debounce
// window keeps a rapid sequence of operator edits from being applied mid-edit.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultDebounce     = 30 * time.Second
)

// ControlRequest is one decoded control-file payload: the requested settings
// plus the epoch-seconds instant the external actor wrote the file.
type ControlRequest struct {
	Settings  map[string]any
	Timestamp float64

	// fingerprint is the raw file content, used to tell one request from an
	// idempotent re-read of the same one.
	fingerprint string
}

// LogEvery reads the log-every-N-steps setting, currently the only setting
// the trainer acts on.
func (r *ControlRequest) LogEvery() (int, bool) {
	f, ok := asFloat(r.Settings["log_every"])
	if !ok || f < 1 {
		return 0, false
	}
	return int(f), true
}

// Fingerprint identifies the request content for acknowledgement.
func (r *ControlRequest) Fingerprint() string { return r.fingerprint }

// ControlMonitor polls the per-run control file with rate limiting and
// debouncing. It is a mailbox reader, not a queue: a request stays visible
// until the file content changes or the caller acknowledges it with Ack.
type ControlMonitor struct {
	path     string
	pollGap  time.Duration
	debounce time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	lastPoll  time.Time
	lastAcked string
	now       func() time.Time
}

// NewControlMonitor creates a monitor for the control file inside runDir.
func NewControlMonitor(runDir string, log zerolog.Logger) *ControlMonitor {
	return &ControlMonitor{
		path:     filepath.Join(runDir, ControlFileName),
		pollGap:  DefaultPollInterval,
		debounce: DefaultDebounce,
		log:      log,
		now:      time.Now,
	}
}

// Path returns the control file location.
func (m *ControlMonitor) Path() string { return m.path }

// SetTimings overrides the poll floor and debounce window. A zero duration
// keeps the current value.
func (m *ControlMonitor) SetTimings(poll, debounce time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if poll > 0 {
		m.pollGap = poll
	}
	if debounce > 0 {
		m.debounce = debounce
	}
}

// Check polls the control file and returns the pending request once it is
// actionable. It returns nil when:
//   - less than the poll interval has passed since the previous read,
//   - the file is missing or malformed,
//   - the file's own timestamp is younger than the debounce window, or
//   - the content equals the last acknowledged request.
//
// Callers that do not Ack must compare the returned settings against their
// active values; the same request keeps returning on later polls.
func (m *ControlMonitor) Check() *ControlRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPoll) < m.pollGap {
		return nil
	}
	m.lastPoll = now

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("path", m.path).Msg("reading control file")
		}
		return nil
	}

	req, err := decodeControl(data)
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("malformed control file")
		return nil
	}

	if now.Sub(epochToTime(req.Timestamp)) < m.debounce {
		return nil
	}

	if req.fingerprint == m.lastAcked {
		return nil
	}
	return req
}

// Ack marks the request's content as applied. Subsequent polls suppress it
// until the external actor writes different content.
func (m *ControlMonitor) Ack(req *ControlRequest) {
	if req == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAcked = req.fingerprint
}

// epochToTime converts float epoch seconds, splitting whole seconds from the
// fraction so integral timestamps convert without float drift.
func epochToTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func decodeControl(data []byte) (*ControlRequest, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding control file: %w", err)
	}

	ts, ok := asFloat(raw["timestamp"])
	if !ok {
		return nil, fmt.Errorf("control file missing timestamp")
	}
	delete(raw, "timestamp")

	return &ControlRequest{
		Settings:    raw,
		Timestamp:   ts,
		fingerprint: string(data),
	}, nil
}
