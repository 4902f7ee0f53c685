package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leadforge/core/internal/model"
)

// walRecord is a single durable state transition, appended before the
// transition is acknowledged to the caller (spec §4.3's "every state
// transition is flushed to a local append-only log before acknowledgement").
type walRecord struct {
	JobID      string          `json:"job_id"`
	WorkType   model.WorkType  `json:"work_type"`
	Priority   int             `json:"priority"`
	State      model.JobState  `json:"state"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// wal is an append-only, per-work-type JSON-lines log used to recover job
// state across a process restart.
type wal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func openWAL(dir string, workType model.WorkType) (*wal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create wal directory: %w", err)
	}
	path := filepath.Join(dir, string(workType)+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open wal %s: %w", path, err)
	}
	return &wal{path: path, file: f}, nil
}

// append writes rec as a single JSON line and fsyncs before returning, so
// the caller's acknowledgement is only given after the transition is
// durable.
func (w *wal) append(rec walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: marshal wal record: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("queue: write wal record: %w", err)
	}
	return w.file.Sync()
}

func (w *wal) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// replayWAL reads every record from path and folds them into a map of the
// latest record per job ID, in file order (later records override earlier
// ones for the same job).
func replayWAL(dir string, workType model.WorkType) (map[string]walRecord, error) {
	path := filepath.Join(dir, string(workType)+".log")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]walRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: open wal for replay %s: %w", path, err)
	}
	defer f.Close()

	latest := make(map[string]walRecord)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A partially-written final line (crash mid-append) is skipped,
			// not fatal: the record before it is still authoritative.
			continue
		}
		latest[rec.JobID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("queue: scan wal %s: %w", path, err)
	}
	return latest, nil
}
