package ledger

import (
	"context"
	"fmt"

	"zenus/internal/logging"
	"zenus/internal/types"
)

// InverseRunner executes one inverse step. Rollback feeds inverse steps
// through the ordinary step executor, which must not record them as new
// reversible actions.
type InverseRunner func(ctx context.Context, step types.Step) types.Observation

// PlannedInverse is one entry of a rollback preview.
type PlannedInverse struct {
	Record  ActionRecord
	Step    types.Step
	Skipped bool
	Reason  string
}

// Entry is the outcome of one attempted inverse operation.
type Entry struct {
	RecordID    int64
	Step        types.Step
	Inverted    bool
	Skipped     bool
	Reason      string
	Observation types.Observation
}

// Report summarizes a rollback run.
type Report struct {
	Planned  int
	Inverted int
	Failed   int
	Skipped  int
	DryRun   bool
	Entries  []Entry
}

// Preview returns the ordered list of planned inverse operations for the
// last n reversible records without executing anything. Required before
// any interactive rollback.
func (l *Ledger) Preview(n int) ([]PlannedInverse, error) {
	recs, err := l.LastReversible(n)
	if err != nil {
		return nil, err
	}
	return planInverses(recs), nil
}

// PreviewTxn is Preview over all reversible records of one transaction.
func (l *Ledger) PreviewTxn(txnID string) ([]PlannedInverse, error) {
	recs, err := l.ReversibleInTxn(txnID)
	if err != nil {
		return nil, err
	}
	return planInverses(recs), nil
}

func planInverses(recs []ActionRecord) []PlannedInverse {
	out := make([]PlannedInverse, 0, len(recs))
	for _, rec := range recs {
		if !rec.Strategy.Reversible() {
			out = append(out, PlannedInverse{Record: rec, Skipped: true, Reason: "strategy none"})
			continue
		}
		step, err := rec.Strategy.Inverse()
		if err != nil {
			out = append(out, PlannedInverse{Record: rec, Skipped: true, Reason: err.Error()})
			continue
		}
		out = append(out, PlannedInverse{Record: rec, Step: step})
	}
	return out
}

// Rollback undoes the last n reversible records, newest first. Partial
// failure is not fatal: remaining records are still attempted, and a
// record whose inverse fails stays rolled_back=false. Cancellation is
// honored between inverse operations, never in the middle of one.
func (l *Ledger) Rollback(ctx context.Context, n int, run InverseRunner) (*Report, error) {
	plan, err := l.Preview(n)
	if err != nil {
		return nil, err
	}
	return l.runRollback(ctx, plan, run)
}

// RollbackTxn undoes all reversible records of one transaction,
// newest first, and marks the transaction rolled_back when every record
// inverted.
func (l *Ledger) RollbackTxn(ctx context.Context, txnID string, run InverseRunner) (*Report, error) {
	plan, err := l.PreviewTxn(txnID)
	if err != nil {
		return nil, err
	}
	report, err := l.runRollback(ctx, plan, run)
	if err != nil {
		return report, err
	}
	if report.Failed == 0 && report.Inverted > 0 {
		if terr := l.CloseTxn(txnID, TxnRolledBack); terr != nil {
			logging.Ledger("could not mark transaction %s rolled back: %v", txnID, terr)
		}
	}
	return report, nil
}

func (l *Ledger) runRollback(ctx context.Context, plan []PlannedInverse, run InverseRunner) (*Report, error) {
	if len(plan) == 0 {
		return nil, ErrNothingToRollBack
	}
	report := &Report{Planned: len(plan)}
	for _, p := range plan {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		if p.Skipped {
			report.Skipped++
			report.Entries = append(report.Entries, Entry{
				RecordID: p.Record.ID, Skipped: true, Reason: p.Reason,
			})
			continue
		}

		obs := run(ctx, p.Step)
		entry := Entry{RecordID: p.Record.ID, Step: p.Step, Observation: obs}
		if obs.Outcome == types.OutcomeOK {
			if err := l.MarkRolledBack(p.Record.ID); err != nil {
				return report, err
			}
			entry.Inverted = true
			report.Inverted++
			logging.Ledger("rolled back record %d via %s.%s", p.Record.ID, p.Step.Tool, p.Step.Action)
		} else {
			entry.Reason = fmt.Sprintf("%s: %s", obs.ErrorKind, obs.Stderr)
			report.Failed++
			logging.Ledger("inverse failed for record %d: %s", p.Record.ID, entry.Reason)
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}
