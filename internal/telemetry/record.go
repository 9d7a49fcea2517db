package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Event kinds persisted to the metrics stream.
const (
	EventStart         = "start"
	EventStep          = "step"
	EventEpoch         = "epoch"
	EventCheckpoint    = "checkpoint"
	EventEval          = "eval"
	EventControlChange = "control_change"
)

// Sentinel strings used to persist non-finite floats. encoding/json refuses
// NaN and infinities, so they are stored as strings and decoded back by Float.
const (
	nanSentinel    = "NaN"
	posInfSentinel = "Infinity"
	negInfSentinel = "-Infinity"
)

// Record is a single telemetry event: a fixed envelope (event kind plus two
// representations of the same instant) and a schema-less bag of event-specific
// fields. It serializes to one flat JSON object.
type Record struct {
	Event     string
	Time      float64
	Timestamp string
	Fields    map[string]any
}

// NewRecord builds a record stamped at the given instant.
func NewRecord(event string, now time.Time, fields map[string]any) Record {
	return Record{
		Event:     event,
		Time:      float64(now.UnixNano()) / 1e9,
		Timestamp: now.Format(time.RFC3339Nano),
		Fields:    fields,
	}
}

// flatten merges the envelope and field bag into one map, sanitizing values
// that encoding/json cannot represent.
func (r Record) flatten() map[string]any {
	m := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		m[k] = sanitizeValue(v)
	}
	m["event"] = r.Event
	m["time"] = r.Time
	m["timestamp"] = r.Timestamp
	return m
}

// MarshalJSON encodes the record as a single flat JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.flatten())
}

// UnmarshalJSON decodes a flat JSON object back into envelope plus field bag.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if ev, ok := m["event"].(string); ok {
		r.Event = ev
	}
	if t, ok := m["time"].(float64); ok {
		r.Time = t
	}
	if ts, ok := m["timestamp"].(string); ok {
		r.Timestamp = ts
	}
	delete(m, "event")
	delete(m, "time")
	delete(m, "timestamp")
	r.Fields = m
	return nil
}

// Keys returns the sorted set of column names the record occupies in a
// tabular projection: the envelope keys plus every field key.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields)+3)
	keys = append(keys, "event", "time", "timestamp")
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float reads a field as a float64, decoding the non-finite sentinels written
// by the JSON encoder. The second return is false when the field is absent or
// not numeric.
func (r Record) Float(key string) (float64, bool) {
	return asFloat(r.Fields[key])
}

// Bool reads a field as a bool.
func (r Record) Bool(key string) bool {
	b, _ := r.Fields[key].(bool)
	return b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		switch x {
		case nanSentinel:
			return math.NaN(), true
		case posInfSentinel:
			return math.Inf(1), true
		case negInfSentinel:
			return math.Inf(-1), true
		}
	}
	return 0, false
}

// sanitizeValue replaces non-finite floats with their string sentinels,
// recursing into maps and slices so any nesting stays encodable.
func sanitizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		return sanitizeFloat(x)
	case float32:
		return sanitizeFloat(float64(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = sanitizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

func sanitizeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return nanSentinel
	case math.IsInf(f, 1):
		return posInfSentinel
	case math.IsInf(f, -1):
		return negInfSentinel
	default:
		return f
	}
}

// cellValue renders a record value as a CSV cell. Nil becomes an empty cell,
// scalars their natural text, and anything nested its JSON text.
func cellValue(v any) string {
	switch x := sanitizeValue(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return trimFloat(x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// trimFloat formats a float the way json.Marshal would, so the CSV mirror and
// the JSONL source of truth agree on numeric text.
func trimFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
