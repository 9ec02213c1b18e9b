// Package audit provides the append-only JSON-lines record of every
// attempted, completed, and failed operation. One file per session under
// <state-root>/logs/, one record per line, totally ordered by a
// monotonic per-process sequence number.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zenus/internal/types"
)

// Record is one audit log entry.
type Record struct {
	Seq        int64           `json:"seq"`
	TS         time.Time       `json:"ts"`
	TxnID      string          `json:"txn_id"`
	Tool       string          `json:"tool"`
	Action     string          `json:"action"`
	Args       map[string]any  `json:"args,omitempty"`
	Outcome    types.Outcome   `json:"outcome"`
	ErrorKind  types.ErrorKind `json:"error_kind,omitempty"`
	StdoutTail string          `json:"stdout_tail,omitempty"`
	Stderr     string          `json:"stderr,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms"`
}

// Log is the process-singleton audit sink. Appends are serialized;
// reads go through Scan on the closed or live file.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	path    string
	seq     int64
	errOnce sync.Once
}

// Open creates the session log file under root/logs/ named by the
// session start time.
func Open(root string) (*Log, error) {
	dir := filepath.Join(root, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("session-%s.jsonl", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Log{file: file, w: bufio.NewWriter(file), path: path}, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes one record, assigning its sequence number. The write is
// flushed before returning so a crash never loses acknowledged records.
func (l *Log) Append(rec Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0, ErrClosed
	}
	l.seq++
	rec.Seq = l.seq
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.seq--
		return 0, fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return 0, fmt.Errorf("failed to append audit record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush audit log: %w", err)
	}
	return rec.Seq, nil
}

// Observation appends the audit record for one executed step.
func (l *Log) Observation(txnID string, step types.Step, obs types.Observation) {
	_, err := l.Append(Record{
		TxnID:      txnID,
		Tool:       step.Tool,
		Action:     step.Action,
		Args:       step.Args,
		Outcome:    obs.Outcome,
		ErrorKind:  obs.ErrorKind,
		StdoutTail: obs.Stdout,
		Stderr:     obs.Stderr,
		ElapsedMs:  obs.ElapsedMs,
	})
	if err != nil {
		// Audit failures must not fail execution; they are reported once
		// at close time via Err().
		l.noteErr(err)
	}
}

func (l *Log) noteErr(err error) {
	l.errOnce.Do(func() {
		fmt.Fprintf(os.Stderr, "[audit] write failed: %v\n", err)
	})
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	flushErr := l.w.Flush()
	closeErr := l.file.Close()
	l.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Filter selects records in history queries. Zero values match everything.
type Filter struct {
	Tool    string
	TxnID   string
	Outcome types.Outcome
	Since   time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Tool != "" && r.Tool != f.Tool {
		return false
	}
	if f.TxnID != "" && r.TxnID != f.TxnID {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.TS.Before(f.Since) {
		return false
	}
	return true
}

// Scan reads records matching the filter from every session log under
// root/logs/, in file order. Malformed lines are skipped.
func Scan(root string, f Filter) ([]Record, error) {
	dir := filepath.Join(root, "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		recs, err := scanFile(filepath.Join(dir, e.Name()), f)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func scanFile(path string, f Filter) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var out []Record
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if f.matches(rec) {
			out = append(out, rec)
		}
	}
	return out, sc.Err()
}
