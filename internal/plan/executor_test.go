package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/audit"
	"zenus/internal/config"
	"zenus/internal/failure"
	"zenus/internal/ledger"
	"zenus/internal/resilience"
	"zenus/internal/tools"
	"zenus/internal/types"
)

type fixture struct {
	root     string
	registry *tools.Registry
	audit    *audit.Log
	ledger   *ledger.Ledger
	failures *failure.Store
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	reg := tools.Builtins(root)

	al, err := audit.Open(root)
	require.NoError(t, err)
	led, err := ledger.Open(root)
	require.NoError(t, err)
	fs, err := failure.NewStore(root)
	require.NoError(t, err)
	t.Cleanup(func() {
		fs.Close()
		led.Close()
		al.Close()
	})

	retryCfg := config.DefaultConfig().Retry
	retryCfg.InitialDelaySeconds = 0.001
	retryCfg.MaxDelaySeconds = 0.01
	retry := resilience.NewRetryBudget(retryCfg)

	return &fixture{
		root:     root,
		registry: reg,
		audit:    al,
		ledger:   led,
		failures: fs,
		exec:     NewExecutor(reg, al, led, fs, retry, 5*time.Second),
	}
}

func (f *fixture) begin(t *testing.T) string {
	t.Helper()
	txn, err := f.ledger.Begin("test input", "test goal")
	require.NoError(t, err)
	return txn.ID
}

func TestExecuteUnknownToolYieldsSchemaObservation(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	obs := f.exec.Execute(context.Background(), txnID, 0,
		step("LaserOps", "fire", map[string]any{"target": "moon"}))
	assert.Equal(t, types.OutcomeFailed, obs.Outcome)
	assert.Equal(t, types.KindSchema, obs.ErrorKind)

	t.Run("failure recorded for learning", func(t *testing.T) {
		recs, err := f.failures.Similar("LaserOps", "", 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, types.KindSchema, recs[0].ErrorKind)
	})
}

func TestExecuteMissingArgYieldsSchemaObservation(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	obs := f.exec.Execute(context.Background(), txnID, 0,
		step("FileOps", "write_file", map[string]any{"content": "x"}))
	assert.Equal(t, types.OutcomeFailed, obs.Outcome)
	assert.Equal(t, types.KindSchema, obs.ErrorKind)
	assert.Contains(t, obs.Stderr, "path")
}

func TestExecuteRecordsMutatingSuccess(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)
	path := filepath.Join(f.root, "out.txt")

	obs := f.exec.Execute(context.Background(), txnID, 0,
		step("FileOps", "write_file", map[string]any{"path": path, "content": "data"}))
	require.Equal(t, types.OutcomeOK, obs.Outcome)

	t.Run("ledger holds the rollback strategy", func(t *testing.T) {
		recs, err := f.ledger.Records(txnID, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Reversible)
		assert.Equal(t, ledger.StrategyDelete, recs[0].Strategy.Kind)
		assert.Equal(t, path, recs[0].Strategy.Path)
	})

	t.Run("audit trail has the observation", func(t *testing.T) {
		entries, err := audit.Scan(f.root, audit.Filter{TxnID: txnID})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "write_file", entries[0].Action)
		assert.Equal(t, types.OutcomeOK, entries[0].Outcome)
	})
}

func TestExecuteReadFailureIsNotRecordedInLedger(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	obs := f.exec.Execute(context.Background(), txnID, 0,
		step("FileOps", "read_file", map[string]any{"path": filepath.Join(f.root, "missing")}))
	assert.Equal(t, types.OutcomeFailed, obs.Outcome)
	assert.Equal(t, types.KindNotFound, obs.ErrorKind)

	recs, err := f.ledger.Records(txnID, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	calls := 0
	f.registry.MustRegister(&tools.Tool{
		Name:  "FlakyOps",
		Class: tools.ClassNetwork,
		Actions: map[string]*tools.Action{
			"poke": {Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
				calls++
				if calls < 3 {
					return nil, types.WithKind(types.KindTransient, errors.New("flaky"))
				}
				return &tools.Result{Stdout: "ok"}, nil
			}},
		},
	})

	obs := f.exec.Execute(context.Background(), txnID, 0, step("FlakyOps", "poke", nil))
	assert.Equal(t, types.OutcomeOK, obs.Outcome)
	assert.Equal(t, 3, calls)
}

func TestExecuteSettlesProposedRemedies(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	hash, err := f.failures.RecordFailure("FileOps", types.KindPermission,
		"permission denied", "chown the target directory")
	require.NoError(t, err)

	remedyCounts := func(t *testing.T) (attempts, successes int) {
		t.Helper()
		recs, err := f.failures.Similar("FileOps", "", 10)
		require.NoError(t, err)
		for _, r := range recs {
			if r.SignatureHash == hash {
				return r.RemedyAttemptCount, r.RemedySuccessCount
			}
		}
		t.Fatal("remedy cluster missing")
		return 0, 0
	}

	f.exec.NoteRemedies("FileOps", []string{hash})
	obs := f.exec.Execute(context.Background(), txnID, 0,
		step("FileOps", "mkdir", map[string]any{"path": filepath.Join(f.root, "made")}))
	require.Equal(t, types.OutcomeOK, obs.Outcome)

	attempts, successes := remedyCounts(t)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, successes)

	t.Run("failure counts the attempt only", func(t *testing.T) {
		f.exec.NoteRemedies("FileOps", []string{hash})
		obs := f.exec.Execute(context.Background(), txnID, 1,
			step("FileOps", "read_file", map[string]any{"path": filepath.Join(f.root, "absent")}))
		require.Equal(t, types.OutcomeFailed, obs.Outcome)

		attempts, successes := remedyCounts(t)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 1, successes)
	})

	t.Run("settled remedies are not counted twice", func(t *testing.T) {
		obs := f.exec.Execute(context.Background(), txnID, 2,
			step("FileOps", "mkdir", map[string]any{"path": filepath.Join(f.root, "again")}))
		require.Equal(t, types.OutcomeOK, obs.Outcome)

		attempts, _ := remedyCounts(t)
		assert.Equal(t, 2, attempts)
	})
}

func TestExecuteInverseAuditsWithoutLedgerWrites(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)
	path := filepath.Join(f.root, "undo-me.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	run := f.exec.ExecuteInverse(txnID)
	obs := run(context.Background(), step("FileOps", "delete", map[string]any{"path": path}))
	assert.Equal(t, types.OutcomeOK, obs.Outcome)
	assert.NoFileExists(t, path)

	recs, err := f.ledger.Records(txnID, 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "inverse runs must not create new ledger records")

	entries, err := audit.Scan(f.root, audit.Filter{TxnID: txnID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
