package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// writeControlFile writes a control payload whose timestamp is the given
// instant.
func writeControlFile(t *testing.T, dir string, settings map[string]any, written time.Time) {
	t.Helper()
	payload := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		payload[k] = v
	}
	payload["timestamp"] = float64(written.UnixNano()) / 1e9

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshalling control payload: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ControlFileName), data, 0o644); err != nil {
		t.Fatalf("writing control file: %v", err)
	}
}

// newTestMonitor returns a monitor with a controllable clock.
func newTestMonitor(dir string, start time.Time) (*ControlMonitor, *time.Time) {
	now := start
	m := NewControlMonitor(dir, zerolog.Nop())
	m.now = func() time.Time { return now }
	return m, &now
}

func TestControlMonitor_DebounceWindow(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	writeControlFile(t, dir, map[string]any{"log_every": 5}, base)

	m, now := newTestMonitor(dir, base)

	// Within the debounce window the file exists but is not actionable.
	for _, offset := range []time.Duration{0, 5 * time.Second, 29 * time.Second} {
		*now = base.Add(offset)
		m.lastPoll = time.Time{} // defeat the poll floor for this check
		if req := m.Check(); req != nil {
			t.Fatalf("expected no actionable request at +%v, got %+v", offset, req)
		}
	}

	// At the window boundary the request becomes actionable.
	*now = base.Add(30 * time.Second)
	m.lastPoll = time.Time{}
	req := m.Check()
	if req == nil {
		t.Fatal("expected actionable request at +30s")
	}
	if v, ok := req.LogEvery(); !ok || v != 5 {
		t.Errorf("expected log_every 5, got %v (ok=%v)", v, ok)
	}
}

func TestControlMonitor_PollFloor(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	writeControlFile(t, dir, map[string]any{"log_every": 3}, base.Add(-time.Minute))

	m, now := newTestMonitor(dir, base)

	if req := m.Check(); req == nil {
		t.Fatal("expected request on first poll")
	}

	// A second poll within the floor reads nothing, even though the file is
	// still actionable.
	*now = base.Add(time.Second)
	if req := m.Check(); req != nil {
		t.Errorf("expected poll floor to suppress read, got %+v", req)
	}

	*now = base.Add(3 * time.Second)
	if req := m.Check(); req == nil {
		t.Error("expected request once the poll floor has passed")
	}
}

func TestControlMonitor_RepeatedPollsReturnSameRequest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	writeControlFile(t, dir, map[string]any{"log_every": 7}, base.Add(-time.Minute))

	m, now := newTestMonitor(dir, base)

	first := m.Check()
	if first == nil {
		t.Fatal("expected request")
	}

	*now = base.Add(10 * time.Second)
	second := m.Check()
	if second == nil {
		t.Fatal("expected un-acked request to keep returning")
	}
	if second.Fingerprint() != first.Fingerprint() {
		t.Errorf("expected identical fingerprints, got %q vs %q", first.Fingerprint(), second.Fingerprint())
	}
}

func TestControlMonitor_AckSuppressesUntilContentChanges(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	writeControlFile(t, dir, map[string]any{"log_every": 7}, base.Add(-time.Minute))

	m, now := newTestMonitor(dir, base)

	req := m.Check()
	if req == nil {
		t.Fatal("expected request")
	}
	m.Ack(req)

	*now = base.Add(10 * time.Second)
	if got := m.Check(); got != nil {
		t.Errorf("expected acked request to be suppressed, got %+v", got)
	}

	// New content revives the channel.
	writeControlFile(t, dir, map[string]any{"log_every": 9}, base.Add(-time.Minute))
	*now = base.Add(20 * time.Second)
	got := m.Check()
	if got == nil {
		t.Fatal("expected new request after content change")
	}
	if v, _ := got.LogEvery(); v != 9 {
		t.Errorf("expected log_every 9, got %d", v)
	}
}

func TestControlMonitor_MissingFile(t *testing.T) {
	m, _ := newTestMonitor(t.TempDir(), time.Now())
	if req := m.Check(); req != nil {
		t.Errorf("expected nil for missing control file, got %+v", req)
	}
}

func TestControlMonitor_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ControlFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing malformed file: %v", err)
	}

	m, _ := newTestMonitor(dir, time.Now())
	if req := m.Check(); req != nil {
		t.Errorf("expected nil for malformed control file, got %+v", req)
	}
}

func TestControlMonitor_MissingTimestamp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ControlFileName), []byte(`{"log_every": 4}`), 0o644); err != nil {
		t.Fatalf("writing control file: %v", err)
	}

	m, _ := newTestMonitor(dir, time.Now())
	if req := m.Check(); req != nil {
		t.Errorf("expected nil for control file without timestamp, got %+v", req)
	}
}

func TestControlRequest_LogEvery(t *testing.T) {
	req := &ControlRequest{Settings: map[string]any{"log_every": 10.0}}
	if v, ok := req.LogEvery(); !ok || v != 10 {
		t.Errorf("expected 10, got %d (ok=%v)", v, ok)
	}

	req = &ControlRequest{Settings: map[string]any{"log_every": 0.0}}
	if _, ok := req.LogEvery(); ok {
		t.Error("expected log_every below 1 to be rejected")
	}

	req = &ControlRequest{Settings: map[string]any{}}
	if _, ok := req.LogEvery(); ok {
		t.Error("expected missing log_every to be rejected")
	}
}
