package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ExternalIntegration mirrors records to an optional external consumer, for
// example a scalar-metrics dashboard or a run-tracking service. Integrations
// are best-effort: the logger fires them only after the durable local write
// and swallows their failures individually.
type ExternalIntegration interface {
	Name() string
	LogRecord(rec Record) error
	Close() error
}

// Envelope keys that are never forwarded as scalar metrics.
var scalarSkip = map[string]struct{}{
	"global_step": {},
	"epoch":       {},
	"time":        {},
}

// ScalarMirror appends (tag, value, step) triples for every numeric field to
// a JSONL file under <runDir>/scalars/, a lightweight stand-in for a
// TensorBoard-style scalar dashboard.
type ScalarMirror struct {
	file *os.File
}

// NewScalarMirror creates the scalars directory under runDir and opens the
// scalar stream for appending.
func NewScalarMirror(runDir string) (*ScalarMirror, error) {
	dir := filepath.Join(runDir, "scalars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scalars directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "scalars.jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening scalar stream: %w", err)
	}
	return &ScalarMirror{file: f}, nil
}

func (s *ScalarMirror) Name() string { return "scalar-mirror" }

type scalarPoint struct {
	Tag      string  `json:"tag"`
	Value    float64 `json:"value"`
	Step     int64   `json:"step"`
	WallTime float64 `json:"wall_time"`
}

// LogRecord forwards each numeric field of the record as one scalar point.
// Non-numeric and envelope fields are filtered out.
func (s *ScalarMirror) LogRecord(rec Record) error {
	step, _ := rec.Float("global_step")

	for key, v := range rec.Fields {
		if _, skip := scalarSkip[key]; skip {
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		point := scalarPoint{Tag: key, Value: f, Step: int64(step), WallTime: rec.Time}
		data, err := json.Marshal(sanitizeScalar(point))
		if err != nil {
			return fmt.Errorf("marshalling scalar %s: %w", key, err)
		}
		data = append(data, '\n')
		if _, err := s.file.Write(data); err != nil {
			return fmt.Errorf("writing scalar %s: %w", key, err)
		}
	}
	return nil
}

// sanitizeScalar keeps a non-finite value encodable by falling back to the
// generic map form with the string sentinel.
func sanitizeScalar(p scalarPoint) any {
	v := sanitizeFloat(p.Value)
	if _, finite := v.(float64); finite {
		return p
	}
	return map[string]any{
		"tag":       p.Tag,
		"value":     v,
		"step":      p.Step,
		"wall_time": p.WallTime,
	}
}

func (s *ScalarMirror) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing scalar stream: %w", err)
	}
	return nil
}

// TrackerClient posts records to a run-tracking HTTP endpoint. Only numeric
// and string fields are forwarded, associated with the record's step.
type TrackerClient struct {
	runName  string
	endpoint string
	client   *http.Client
}

// NewTrackerClient creates a tracker integration posting to endpoint. The
// request timeout bounds how long a slow service can stall the (already
// best-effort) integration path.
func NewTrackerClient(runName, endpoint string) *TrackerClient {
	return &TrackerClient{
		runName:  runName,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TrackerClient) Name() string { return "tracker" }

type trackerPayload struct {
	Run    string         `json:"run"`
	Step   *int64         `json:"step,omitempty"`
	Fields map[string]any `json:"fields"`
}

// LogRecord posts a flat projection of the record: numeric and string fields
// only, with the raw epoch seconds dropped in favor of the readable timestamp.
func (t *TrackerClient) LogRecord(rec Record) error {
	payload := trackerPayload{
		Run:    t.runName,
		Fields: make(map[string]any, len(rec.Fields)+2),
	}
	payload.Fields["event"] = rec.Event
	payload.Fields["timestamp"] = rec.Timestamp

	for key, v := range rec.Fields {
		switch v.(type) {
		case string:
			payload.Fields[key] = v
		default:
			if f, ok := asFloat(v); ok {
				payload.Fields[key] = sanitizeFloat(f)
			}
		}
	}
	if step, ok := rec.Float("global_step"); ok {
		s := int64(step)
		payload.Step = &s
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling tracker payload: %w", err)
	}

	resp, err := t.client.Post(t.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting to tracker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *TrackerClient) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
