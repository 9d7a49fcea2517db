package telemetry

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScalarMirror_NumericFieldsOnly(t *testing.T) {
	runDir := t.TempDir()
	mirror, err := NewScalarMirror(runDir)
	if err != nil {
		t.Fatalf("creating scalar mirror: %v", err)
	}
	defer mirror.Close()

	rec := NewRecord(EventStep, time.Now(), map[string]any{
		"global_step": 5,
		"epoch":       1,
		"train_loss":  0.7,
		"grad_norm":   1.2,
		"run_name":    "not-a-scalar",
		"is_best":     true,
	})
	if err := mirror.LogRecord(rec); err != nil {
		t.Fatalf("logging record: %v", err)
	}

	f, err := os.Open(filepath.Join(runDir, "scalars", "scalars.jsonl"))
	if err != nil {
		t.Fatalf("opening scalar stream: %v", err)
	}
	defer f.Close()

	tags := make(map[string]float64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var point struct {
			Tag   string  `json:"tag"`
			Value float64 `json:"value"`
			Step  int64   `json:"step"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &point); err != nil {
			t.Fatalf("parsing scalar line: %v", err)
		}
		if point.Step != 5 {
			t.Errorf("expected step 5, got %d", point.Step)
		}
		tags[point.Tag] = point.Value
	}

	if len(tags) != 2 {
		t.Fatalf("expected exactly train_loss and grad_norm, got %v", tags)
	}
	if tags["train_loss"] != 0.7 {
		t.Errorf("expected train_loss 0.7, got %v", tags["train_loss"])
	}
	if tags["grad_norm"] != 1.2 {
		t.Errorf("expected grad_norm 1.2, got %v", tags["grad_norm"])
	}
}

func TestTrackerClient_PostsFilteredPayload(t *testing.T) {
	var received trackerPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("parsing tracker payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewTrackerClient("test-run", server.URL)
	defer client.Close()

	rec := NewRecord(EventStep, time.Now(), map[string]any{
		"global_step": 12,
		"train_loss":  0.6,
		"optimizer":   "adamw",
		"nested":      map[string]any{"dropped": true},
	})
	if err := client.LogRecord(rec); err != nil {
		t.Fatalf("logging record: %v", err)
	}

	if received.Run != "test-run" {
		t.Errorf("expected run test-run, got %q", received.Run)
	}
	if received.Step == nil || *received.Step != 12 {
		t.Errorf("expected step 12, got %v", received.Step)
	}
	if received.Fields["train_loss"] != 0.6 {
		t.Errorf("expected train_loss forwarded, got %v", received.Fields["train_loss"])
	}
	if received.Fields["optimizer"] != "adamw" {
		t.Errorf("expected string field forwarded, got %v", received.Fields["optimizer"])
	}
	if _, ok := received.Fields["nested"]; ok {
		t.Error("expected nested field to be filtered out")
	}
	if _, ok := received.Fields["time"]; ok {
		t.Error("expected raw time to be excluded")
	}
}

func TestTrackerClient_ServerErrorReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewTrackerClient("test-run", server.URL)
	defer client.Close()

	rec := NewRecord(EventStep, time.Now(), map[string]any{"train_loss": 0.6})
	if err := client.LogRecord(rec); err == nil {
		t.Error("expected error for 500 response")
	}
}
