package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File names written under each run directory.
const (
	jsonlFileName = "metrics.jsonl"
	csvFileName   = "metrics.csv"
)

// Sink persists the event stream to two files in a run directory: an
// append-only JSONL file (the source of truth) and a CSV projection whose
// header grows to the union of all keys seen so far. The sink assumes a
// single writer; its mutex guards in-process concurrency only. Two processes
// appending to the same run race on the CSV rewrite and corrupt it.
type Sink struct {
	jsonlPath string
	csvPath   string

	mu        sync.Mutex
	jsonl     *os.File
	csvFile   *os.File
	csvWriter *csv.Writer
	fields    []string
	fieldSet  map[string]struct{}
}

// OpenSink creates the run directory (and parents) if absent and opens the
// JSONL file for appending. The CSV file is created lazily on first mirror.
func OpenSink(runDir string) (*Sink, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory %s: %w", runDir, err)
	}

	jsonlPath := filepath.Join(runDir, jsonlFileName)
	f, err := os.OpenFile(jsonlPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics log: %w", err)
	}

	return &Sink{
		jsonlPath: jsonlPath,
		csvPath:   filepath.Join(runDir, csvFileName),
		jsonl:     f,
		fieldSet:  make(map[string]struct{}),
	}, nil
}

// JSONLPath returns the path of the append-only metrics log.
func (s *Sink) JSONLPath() string { return s.jsonlPath }

// CSVPath returns the path of the CSV projection.
func (s *Sink) CSVPath() string { return s.csvPath }

// Append serializes the record to one JSON line, appends it, and syncs the
// file so a concurrent tail observes the completed line even if the process
// dies immediately after.
func (s *Sink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}
	data = append(data, '\n')

	if _, err := s.jsonl.Write(data); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := s.jsonl.Sync(); err != nil {
		return fmt.Errorf("syncing metrics log: %w", err)
	}
	return nil
}

// Mirror writes the record to the CSV projection. The first record fixes the
// header to its sorted keys. A record introducing new keys forces a rewrite:
// existing rows are re-read and written back under the enlarged header with
// blank cells in the new columns. Schema changes are rare (typically only at
// run start), so the O(rows) rewrite is acceptable.
func (s *Sink) Mirror(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := rec.Keys()

	if s.csvWriter == nil {
		if err := s.initCSV(keys); err != nil {
			return err
		}
	} else {
		var added bool
		for _, k := range keys {
			if _, ok := s.fieldSet[k]; !ok {
				added = true
				break
			}
		}
		if added {
			if err := s.growCSV(keys); err != nil {
				return err
			}
		}
	}

	row := make([]string, len(s.fields))
	flat := rec.flatten()
	for i, k := range s.fields {
		if v, ok := flat[k]; ok {
			row[i] = cellValue(v)
		}
	}
	if err := s.csvWriter.Write(row); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// initCSV creates the CSV file. The header is always the sorted union of
// fieldSet and keys: a failed rewrite may leave fieldSet ahead of the file,
// and re-initializing from the record's keys alone would drop those columns.
func (s *Sink) initCSV(keys []string) error {
	for _, k := range keys {
		s.fieldSet[k] = struct{}{}
	}
	fields := make([]string, 0, len(s.fieldSet))
	for k := range s.fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	f, err := os.Create(s.csvPath)
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		f.Close()
		return fmt.Errorf("writing csv header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing csv header: %w", err)
	}

	s.csvFile = f
	s.csvWriter = w
	s.fields = fields
	return nil
}

// growCSV rewrites the CSV under a header enlarged with newKeys, backfilling
// previously written rows with empty cells for the new columns.
func (s *Sink) growCSV(newKeys []string) error {
	if err := s.csvFile.Close(); err != nil {
		return fmt.Errorf("closing csv for rewrite: %w", err)
	}
	s.csvWriter = nil
	s.csvFile = nil

	oldHeader, oldRows, err := readCSVRows(s.csvPath)
	if err != nil {
		return err
	}

	if err := s.initCSV(newKeys); err != nil {
		return err
	}

	index := make(map[string]int, len(oldHeader))
	for i, k := range oldHeader {
		index[k] = i
	}
	for _, old := range oldRows {
		row := make([]string, len(s.fields))
		for i, k := range s.fields {
			if j, ok := index[k]; ok && j < len(old) {
				row[i] = old[j]
			}
		}
		if err := s.csvWriter.Write(row); err != nil {
			return fmt.Errorf("rewriting csv row: %w", err)
		}
	}
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		return fmt.Errorf("flushing rewritten csv: %w", err)
	}
	return nil
}

// readCSVRows loads the existing CSV into memory ahead of a rewrite.
func readCSVRows(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading csv before rewrite: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing csv before rewrite: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// Close releases both file handles. Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.csvWriter != nil {
		s.csvWriter.Flush()
		if err := s.csvWriter.Error(); err != nil {
			firstErr = fmt.Errorf("flushing csv: %w", err)
		}
		s.csvWriter = nil
	}
	if s.csvFile != nil {
		if err := s.csvFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing csv: %w", err)
		}
		s.csvFile = nil
	}
	if s.jsonl != nil {
		if err := s.jsonl.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing metrics log: %w", err)
		}
		s.jsonl = nil
	}
	return firstErr
}
