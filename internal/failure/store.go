// Package failure indexes failures by normalized error signature so that
// the session can warn before re-attempting a call that keeps failing,
// and can learn which remedies actually worked.
package failure

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"zenus/internal/logging"
	"zenus/internal/types"
)

// Record is one failure cluster keyed by signature hash.
type Record struct {
	SignatureHash      string
	Canonical          string
	Tool               string
	ErrorKind          types.ErrorKind
	FirstSeen          time.Time
	LastSeen           time.Time
	Occurrences        int
	SuggestedRemedy    string
	RemedySuccessCount int
	RemedyAttemptCount int
}

// RemedyRate returns the observed remedy success rate, or 0 when the
// remedy was never attempted.
func (r Record) RemedyRate() float64 {
	if r.RemedyAttemptCount == 0 {
		return 0
	}
	return float64(r.RemedySuccessCount) / float64(r.RemedyAttemptCount)
}

// Bullet renders the record as a user-facing remediation line: the
// suggested remedy when one exists, the cluster summary otherwise.
func (r Record) Bullet() string {
	if r.SuggestedRemedy == "" {
		return fmt.Sprintf("seen %dx: %s", r.Occurrences, r.Canonical)
	}
	return r.SuggestedRemedy
}

// Store is the process-singleton failure index backed by failures.db.
// Writes are serialized through a single connection; reads share it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) failures.db under the state root.
func NewStore(root string) (*Store, error) {
	path := filepath.Join(root, "failures.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open failures database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Failure("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Failure("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS failures (
		signature_hash TEXT PRIMARY KEY,
		canonical TEXT NOT NULL,
		tool TEXT NOT NULL,
		error_kind TEXT NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		occurrences INTEGER NOT NULL DEFAULT 1,
		suggested_remedy TEXT,
		remedy_success_count INTEGER NOT NULL DEFAULT 0,
		remedy_attempt_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_failures_tool ON failures(tool);
	CREATE INDEX IF NOT EXISTS idx_failures_last_seen ON failures(last_seen);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create failures schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFailure upserts a failure occurrence: insert on first sighting,
// increment occurrences and bump last_seen afterwards. Returns the
// signature hash so callers can correlate later remedy outcomes.
func (s *Store) RecordFailure(tool string, kind types.ErrorKind, message, remedy string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := Signature(message)
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO failures
			(signature_hash, canonical, tool, error_kind, first_seen, last_seen, occurrences, suggested_remedy)
		VALUES (?, ?, ?, ?, ?, ?, 1, NULLIF(?, ''))
		ON CONFLICT(signature_hash) DO UPDATE SET
			occurrences = occurrences + 1,
			last_seen = excluded.last_seen,
			suggested_remedy = COALESCE(NULLIF(excluded.suggested_remedy, ''), suggested_remedy)
	`, hash, Canonicalize(message), tool, string(kind), now, now, remedy)
	if err != nil {
		return "", fmt.Errorf("failed to record failure: %w", err)
	}
	logging.Failure("recorded failure tool=%s kind=%s sig=%.12s", tool, kind, hash)
	return hash, nil
}

// RecordRemedyOutcome records whether the suggested remedy worked the
// next time the same signature was attempted in this session.
func (s *Store) RecordRemedyOutcome(hash string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	succ := 0
	if success {
		succ = 1
	}
	_, err := s.db.Exec(`
		UPDATE failures SET
			remedy_attempt_count = remedy_attempt_count + 1,
			remedy_success_count = remedy_success_count + ?
		WHERE signature_hash = ?
	`, succ, hash)
	if err != nil {
		return fmt.Errorf("failed to record remedy outcome: %w", err)
	}
	return nil
}

// Similar returns failure records for the tool, sorted by occurrence
// count descending, preferring records whose canonical message overlaps
// the normalized user input. Lookups are read-only and idempotent.
func (s *Store) Similar(tool, userInput string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT signature_hash, canonical, tool, error_kind, first_seen, last_seen,
			occurrences, COALESCE(suggested_remedy, ''), remedy_success_count, remedy_attempt_count
		FROM failures
		WHERE tool = ?
		ORDER BY occurrences DESC
		LIMIT ?
	`, tool, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kind string
		if err := rows.Scan(&r.SignatureHash, &r.Canonical, &r.Tool, &kind,
			&r.FirstSeen, &r.LastSeen, &r.Occurrences,
			&r.SuggestedRemedy, &r.RemedySuccessCount, &r.RemedyAttemptCount); err != nil {
			return nil, fmt.Errorf("failed to scan failure record: %w", err)
		}
		r.ErrorKind = types.ErrorKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if userInput != "" {
		out = rankByOverlap(out, userInput)
	}
	return out, nil
}

// rankByOverlap stably moves records sharing a content word with the
// input ahead of those that do not; occurrence order is kept within each
// group.
func rankByOverlap(recs []Record, userInput string) []Record {
	words := inputWords(userInput)
	if len(words) == 0 {
		return recs
	}
	matched := make([]Record, 0, len(recs))
	rest := make([]Record, 0, len(recs))
	for _, r := range recs {
		if overlapsWords(r.Canonical, words) {
			matched = append(matched, r)
		} else {
			rest = append(rest, r)
		}
	}
	return append(matched, rest...)
}

// inputWords extracts the content words of a user input: canonicalized,
// four characters or longer.
func inputWords(userInput string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.Fields(Canonicalize(userInput)) {
		if len(w) >= 4 {
			words[w] = true
		}
	}
	return words
}

func overlapsWords(canonical string, words map[string]bool) bool {
	for _, w := range strings.Fields(canonical) {
		if words[w] {
			return true
		}
	}
	return false
}

// SuccessProbability estimates the chance that the next call to the tool
// succeeds, based on recent failure history:
//
//	base = 0.95
//	penalty = 0.15 * min(4, occurrences in last 30 days)
//	prob = max(0.05, base - penalty)
//
// If any matching record has a remedy with a success rate >= 0.5 the
// probability is boosted by 1.2x, capped at 0.95. With a non-empty
// userInput only remedies whose failure cluster shares a content word
// with the input count toward the boost.
func (s *Store) SuccessProbability(tool, userInput string) (float64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	var recent int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(occurrences), 0) FROM failures
		WHERE tool = ? AND last_seen >= ?
	`, tool, cutoff).Scan(&recent)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent failures: %w", err)
	}

	if recent > 4 {
		recent = 4
	}
	prob := 0.95 - 0.15*float64(recent)
	if prob < 0.05 {
		prob = 0.05
	}

	remedied, err := s.hasWorkingRemedy(tool, userInput)
	if err != nil {
		return 0, err
	}
	if remedied {
		prob *= 1.2
		if prob > 0.95 {
			prob = 0.95
		}
	}
	return prob, nil
}

// hasWorkingRemedy reports whether the tool has a remedy with a success
// rate >= 0.5, restricted to input-similar clusters when the input
// yields content words.
func (s *Store) hasWorkingRemedy(tool, userInput string) (bool, error) {
	rows, err := s.db.Query(`
		SELECT canonical FROM failures
		WHERE tool = ? AND remedy_attempt_count > 0
		  AND CAST(remedy_success_count AS REAL) / remedy_attempt_count >= 0.5
	`, tool)
	if err != nil {
		return false, fmt.Errorf("failed to check remedies: %w", err)
	}
	defer rows.Close()

	words := inputWords(userInput)
	for rows.Next() {
		var canonical string
		if err := rows.Scan(&canonical); err != nil {
			return false, fmt.Errorf("failed to scan remedy record: %w", err)
		}
		if len(words) == 0 || overlapsWords(canonical, words) {
			return true, nil
		}
	}
	return false, rows.Err()
}
