package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestTransactionLifecycle(t *testing.T) {
	l := newTestLedger(t)

	txn, err := l.Begin("make a file", "make a file")
	require.NoError(t, err)
	assert.Equal(t, TxnInProgress, txn.Status)

	t.Run("second begin rejected while active", func(t *testing.T) {
		_, err := l.Begin("another", "another")
		assert.ErrorIs(t, err, ErrTxnActive)
	})

	require.NoError(t, l.CloseTxn(txn.ID, TxnCompleted))

	t.Run("terminal status only moves to rolled_back", func(t *testing.T) {
		err := l.CloseTxn(txn.ID, TxnFailed)
		assert.ErrorIs(t, err, ErrBadTransition)
		assert.NoError(t, l.CloseTxn(txn.ID, TxnRolledBack))
	})

	t.Run("next begin allowed after close", func(t *testing.T) {
		txn2, err := l.Begin("next", "next")
		require.NoError(t, err)
		require.NoError(t, l.CloseTxn(txn2.ID, TxnFailed))
	})
}

func TestAppendAndQuery(t *testing.T) {
	l := newTestLedger(t)
	txn, err := l.Begin("input", "goal")
	require.NoError(t, err)

	id1, err := l.Append(ActionRecord{
		TxnID: txn.ID, StepIndex: 0, Tool: "FileOps", Action: "write_file",
		Args:       map[string]any{"path": "/tmp/a"},
		Result:     "wrote 2 bytes",
		Reversible: true,
		Strategy:   Strategy{Kind: StrategyDelete, Path: "/tmp/a"},
	})
	require.NoError(t, err)

	_, err = l.Append(ActionRecord{
		TxnID: txn.ID, StepIndex: 1, Tool: "ShellOps", Action: "run",
		Args:     map[string]any{"command": "true"},
		Strategy: None(),
	})
	require.NoError(t, err)

	t.Run("missing txn rejected", func(t *testing.T) {
		_, err := l.Append(ActionRecord{Tool: "FileOps", Action: "delete"})
		assert.ErrorIs(t, err, ErrNoActiveTxn)
	})

	t.Run("last reversible skips irreversible", func(t *testing.T) {
		recs, err := l.LastReversible(10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, id1, recs[0].ID)
		assert.Equal(t, StrategyDelete, recs[0].Strategy.Kind)
		assert.Equal(t, "/tmp/a", recs[0].Strategy.Path)
	})

	t.Run("records newest first with args round trip", func(t *testing.T) {
		recs, err := l.Records(txn.ID, 0)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "ShellOps", recs[0].Tool)
		assert.Equal(t, "/tmp/a", recs[1].Args["path"])
	})

	require.NoError(t, l.CloseTxn(txn.ID, TxnCompleted))

	t.Run("last closed txn", func(t *testing.T) {
		last, err := l.LastClosedTxn()
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, txn.ID, last.ID)
		assert.Equal(t, TxnCompleted, last.Status)
	})
}

func TestStrategyInverse(t *testing.T) {
	cases := []struct {
		name       string
		strategy   Strategy
		wantTool   string
		wantAction string
	}{
		{"delete", Strategy{Kind: StrategyDelete, Path: "/tmp/x"}, "FileOps", "delete"},
		{"restore", Strategy{Kind: StrategyRestore, Path: "/tmp/x", BackupPath: "/b"}, "FileOps", "copy"},
		{"move back", Strategy{Kind: StrategyMoveBack, From: "/a", To: "/b"}, "FileOps", "move"},
		{"uninstall", Strategy{Kind: StrategyUninstall, Pkg: "jq"}, "PackageOps", "uninstall"},
		{"reinstall", Strategy{Kind: StrategyReinstall, Pkg: "jq"}, "PackageOps", "install"},
		{"git reset", Strategy{Kind: StrategyGitReset, Hash: "abc"}, "GitOps", "reset"},
		{"service stop", Strategy{Kind: StrategyServiceStop, Name: "nginx"}, "ServiceOps", "stop"},
		{"service start", Strategy{Kind: StrategyServiceStart, Name: "nginx"}, "ServiceOps", "start"},
		{"container", Strategy{Kind: StrategyContainerStopRemove, ID: "c1"}, "ContainerOps", "stop_and_remove"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, err := tc.strategy.Inverse()
			require.NoError(t, err)
			assert.Equal(t, tc.wantTool, step.Tool)
			assert.Equal(t, tc.wantAction, step.Action)
		})
	}

	t.Run("none has no inverse", func(t *testing.T) {
		_, err := None().Inverse()
		assert.ErrorIs(t, err, ErrNotReversible)
	})
}

func TestRollback(t *testing.T) {
	setup := func(t *testing.T) (*Ledger, string) {
		l := newTestLedger(t)
		txn, err := l.Begin("input", "goal")
		require.NoError(t, err)
		for i, path := range []string{"/tmp/a", "/tmp/b", "/tmp/c"} {
			_, err := l.Append(ActionRecord{
				TxnID: txn.ID, StepIndex: i, Tool: "FileOps", Action: "write_file",
				Args:       map[string]any{"path": path},
				Reversible: true,
				Strategy:   Strategy{Kind: StrategyDelete, Path: path},
			})
			require.NoError(t, err)
		}
		require.NoError(t, l.CloseTxn(txn.ID, TxnCompleted))
		return l, txn.ID
	}

	okRunner := func(ctx context.Context, step types.Step) types.Observation {
		return types.Observation{Tool: step.Tool, Action: step.Action, Outcome: types.OutcomeOK}
	}

	t.Run("newest first and marked rolled back", func(t *testing.T) {
		l, _ := setup(t)
		var order []string
		report, err := l.Rollback(context.Background(), 2, func(ctx context.Context, step types.Step) types.Observation {
			order = append(order, step.Args["path"].(string))
			return okRunner(ctx, step)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/tmp/c", "/tmp/b"}, order)
		assert.Equal(t, 2, report.Inverted)

		recs, err := l.LastReversible(10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "/tmp/a", recs[0].Strategy.Path)
	})

	t.Run("partial failure continues", func(t *testing.T) {
		l, _ := setup(t)
		report, err := l.Rollback(context.Background(), 3, func(ctx context.Context, step types.Step) types.Observation {
			if step.Args["path"] == "/tmp/b" {
				return types.Observation{Outcome: types.OutcomeFailed,
					ErrorKind: types.KindPermission, Stderr: "denied"}
			}
			return okRunner(ctx, step)
		})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Inverted)
		assert.Equal(t, 1, report.Failed)

		recs, err := l.LastReversible(10)
		require.NoError(t, err)
		require.Len(t, recs, 1, "failed record stays eligible")
		assert.Equal(t, "/tmp/b", recs[0].Strategy.Path)
	})

	t.Run("none strategy skipped and reported", func(t *testing.T) {
		l := newTestLedger(t)
		txn, err := l.Begin("input", "goal")
		require.NoError(t, err)
		_, err = l.Append(ActionRecord{
			TxnID: txn.ID, Tool: "ShellOps", Action: "run",
			Reversible: true, Strategy: None(),
		})
		require.NoError(t, err)
		require.NoError(t, l.CloseTxn(txn.ID, TxnCompleted))

		report, err := l.Rollback(context.Background(), 1, okRunner)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 0, report.Inverted)
	})

	t.Run("nothing to roll back", func(t *testing.T) {
		l := newTestLedger(t)
		_, err := l.Rollback(context.Background(), 5, okRunner)
		assert.ErrorIs(t, err, ErrNothingToRollBack)
	})

	t.Run("txn rollback flips status", func(t *testing.T) {
		l, txnID := setup(t)
		report, err := l.RollbackTxn(context.Background(), txnID, okRunner)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Inverted)

		recs, err := l.ReversibleInTxn(txnID)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("cancellation between operations", func(t *testing.T) {
		l, _ := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		report, err := l.Rollback(ctx, 3, func(ctx context.Context, step types.Step) types.Observation {
			calls++
			cancel()
			return okRunner(ctx, step)
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "cancellation honored between operations")
		assert.Equal(t, 1, report.Inverted)
	})
}
