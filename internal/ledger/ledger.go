// Package ledger records every reversible operation grouped into
// transactions, and can undo them. It is the system's memory of what it
// did to the machine: actions.db under the state root.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"zenus/internal/logging"
)

// TxnStatus is the state of a transaction. Transitions only move
// forward: in_progress -> {completed, failed} -> rolled_back.
type TxnStatus string

const (
	TxnInProgress TxnStatus = "in_progress"
	TxnCompleted  TxnStatus = "completed"
	TxnFailed     TxnStatus = "failed"
	TxnRolledBack TxnStatus = "rolled_back"
)

var legalTransitions = map[TxnStatus][]TxnStatus{
	TxnInProgress: {TxnCompleted, TxnFailed},
	TxnCompleted:  {TxnRolledBack},
	TxnFailed:     {TxnRolledBack},
}

// Transaction groups the ActionRecords produced by one top-level input.
type Transaction struct {
	ID        string
	Start     time.Time
	End       time.Time
	UserInput string
	Goal      string
	Status    TxnStatus
}

// ActionRecord is one ledger entry for a mutating successful step.
type ActionRecord struct {
	ID         int64
	TxnID      string
	StepIndex  int
	Timestamp  time.Time
	Tool       string
	Action     string
	Args       map[string]any
	Result     string
	Reversible bool
	Strategy   Strategy
	RolledBack bool
}

// Ledger is the process-singleton action ledger backed by actions.db.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex

	activeTxn string
}

// Open opens (creating if needed) actions.db under the state root.
func Open(root string) (*Ledger, error) {
	path := filepath.Join(root, "actions.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open actions database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Ledger("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Ledger("failed to set journal_mode=WAL: %v", err)
	}

	l := &Ledger{db: db}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		start DATETIME NOT NULL,
		end DATETIME,
		user_input TEXT,
		goal TEXT,
		status TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		txn_id TEXT NOT NULL REFERENCES transactions(id),
		step_index INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		tool TEXT NOT NULL,
		action TEXT NOT NULL,
		args TEXT,
		result TEXT,
		reversible BOOLEAN NOT NULL DEFAULT 0,
		strategy TEXT,
		rolled_back BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_actions_txn ON actions(txn_id);
	CREATE INDEX IF NOT EXISTS idx_actions_reversible ON actions(reversible, rolled_back);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Begin creates a transaction for one top-level input and makes it the
// active one. A session runs at most one transaction at a time.
func (l *Ledger) Begin(userInput, goal string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeTxn != "" {
		return nil, fmt.Errorf("%w: %s", ErrTxnActive, l.activeTxn)
	}
	txn := &Transaction{
		ID:        uuid.NewString(),
		Start:     time.Now().UTC(),
		UserInput: userInput,
		Goal:      goal,
		Status:    TxnInProgress,
	}
	_, err := l.db.Exec(`
		INSERT INTO transactions (id, start, user_input, goal, status)
		VALUES (?, ?, ?, ?, ?)
	`, txn.ID, txn.Start, txn.UserInput, txn.Goal, string(txn.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	l.activeTxn = txn.ID
	logging.Ledger("transaction started: %s", txn.ID)
	return txn, nil
}

// CloseTxn transitions the transaction to a terminal status and clears
// the active marker. Illegal transitions are rejected.
func (l *Ledger) CloseTxn(txnID string, status TxnStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transition(txnID, status); err != nil {
		return err
	}
	if l.activeTxn == txnID {
		l.activeTxn = ""
	}
	logging.Ledger("transaction %s -> %s", txnID, status)
	return nil
}

func (l *Ledger) transition(txnID string, next TxnStatus) error {
	var cur string
	err := l.db.QueryRow(`SELECT status FROM transactions WHERE id = ?`, txnID).Scan(&cur)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", txnID, err)
	}
	allowed := false
	for _, s := range legalTransitions[TxnStatus(cur)] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, cur, next)
	}
	_, err = l.db.Exec(`UPDATE transactions SET status = ?, end = ? WHERE id = ?`,
		string(next), time.Now().UTC(), txnID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// Append records one mutating successful step. Records are appended in
// step completion order; step_index preserves IR order for replay.
// A record born with reversible=false stays that way.
func (l *Ledger) Append(rec ActionRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.TxnID == "" {
		return 0, ErrNoActiveTxn
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal args: %w", err)
	}
	strat, err := rec.Strategy.marshal()
	if err != nil {
		return 0, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	res, err := l.db.Exec(`
		INSERT INTO actions (txn_id, step_index, timestamp, tool, action, args, result, reversible, strategy, rolled_back)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.TxnID, rec.StepIndex, rec.Timestamp, rec.Tool, rec.Action,
		string(args), rec.Result, rec.Reversible, strat)
	if err != nil {
		return 0, fmt.Errorf("failed to append action record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read record id: %w", err)
	}
	logging.LedgerDebug("recorded action %d: %s.%s (reversible=%v)", id, rec.Tool, rec.Action, rec.Reversible)
	return id, nil
}

// LastReversible returns up to n reversible, not-yet-rolled-back
// records, newest first.
func (l *Ledger) LastReversible(n int) ([]ActionRecord, error) {
	return l.queryRecords(`
		SELECT id, txn_id, step_index, timestamp, tool, action, args, result, reversible, strategy, rolled_back
		FROM actions
		WHERE reversible = 1 AND rolled_back = 0
		ORDER BY id DESC
		LIMIT ?
	`, n)
}

// ReversibleInTxn returns all reversible, not-yet-rolled-back records of
// one transaction, newest first.
func (l *Ledger) ReversibleInTxn(txnID string) ([]ActionRecord, error) {
	return l.queryRecords(`
		SELECT id, txn_id, step_index, timestamp, tool, action, args, result, reversible, strategy, rolled_back
		FROM actions
		WHERE txn_id = ? AND reversible = 1 AND rolled_back = 0
		ORDER BY id DESC
	`, txnID)
}

// Records returns records matching the filter, newest first, bounded by
// limit (0 means a default of 100).
func (l *Ledger) Records(txnID string, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if txnID != "" {
		return l.queryRecords(`
			SELECT id, txn_id, step_index, timestamp, tool, action, args, result, reversible, strategy, rolled_back
			FROM actions WHERE txn_id = ? ORDER BY id DESC LIMIT ?
		`, txnID, limit)
	}
	return l.queryRecords(`
		SELECT id, txn_id, step_index, timestamp, tool, action, args, result, reversible, strategy, rolled_back
		FROM actions ORDER BY id DESC LIMIT ?
	`, limit)
}

func (l *Ledger) queryRecords(query string, args ...any) ([]ActionRecord, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action records: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var argsJSON, stratJSON string
		if err := rows.Scan(&rec.ID, &rec.TxnID, &rec.StepIndex, &rec.Timestamp,
			&rec.Tool, &rec.Action, &argsJSON, &rec.Result,
			&rec.Reversible, &stratJSON, &rec.RolledBack); err != nil {
			return nil, fmt.Errorf("failed to scan action record: %w", err)
		}
		if argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
				return nil, fmt.Errorf("failed to unmarshal args: %w", err)
			}
		}
		strat, err := unmarshalStrategy(stratJSON)
		if err != nil {
			return nil, err
		}
		rec.Strategy = strat
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkRolledBack flips a record's rolled_back flag. The flag never goes
// back to false.
func (l *Ledger) MarkRolledBack(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`UPDATE actions SET rolled_back = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %d rolled back: %w", id, err)
	}
	return nil
}

// LastClosedTxn returns the most recently closed (completed or failed)
// transaction, if any.
func (l *Ledger) LastClosedTxn() (*Transaction, error) {
	row := l.db.QueryRow(`
		SELECT id, start, COALESCE(end, start), COALESCE(user_input, ''), COALESCE(goal, ''), status
		FROM transactions
		WHERE status IN ('completed', 'failed')
		ORDER BY start DESC LIMIT 1
	`)
	var t Transaction
	var status string
	if err := row.Scan(&t.ID, &t.Start, &t.End, &t.UserInput, &t.Goal, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last transaction: %w", err)
	}
	t.Status = TxnStatus(status)
	return &t, nil
}
