package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/semaphore"

	"zenus/internal/tools"
	"zenus/internal/types"
)

type fakeInteractor struct {
	ok    bool
	asked int32
}

func (f *fakeInteractor) Confirm(ctx context.Context, prompt string) (bool, error) {
	atomic.AddInt32(&f.asked, 1)
	return f.ok, nil
}

func newTestPlanner(f *fixture, interact types.Interactor) *Planner {
	return NewPlanner(NewAnalyzer(f.registry), f.exec, f.failures, interact, semaphore.NewWeighted(4))
}

func TestPlannerRunsIndependentStepsConcurrently(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	f := newFixture(t)
	txnID := f.begin(t)

	var steps []types.Step
	for i := 0; i < 4; i++ {
		path := filepath.Join(f.root, fmt.Sprintf("in-%d.txt", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("file %d", i)), 0o644))
		steps = append(steps, step("FileOps", "read_file", map[string]any{"path": path}))
	}
	ir := &types.IntentIR{Goal: "read all inputs", Steps: steps}

	result, err := f.planner(t).Run(context.Background(), txnID, ir, "read all inputs")
	require.NoError(t, err)
	require.Len(t, result.Levels, 1)
	assert.False(t, result.Failed())
	assert.InDelta(t, 4.0, result.Speedup, 1e-9)

	for i, obs := range result.Observations {
		assert.Equal(t, i, obs.StepIndex, "observations stay in IR order")
		assert.Equal(t, types.OutcomeOK, obs.Outcome)
		assert.Contains(t, obs.Stdout, fmt.Sprintf("file %d", i))
	}
}

// planner builds a planner with auto-approval over the fixture.
func (f *fixture) planner(t *testing.T) *Planner {
	t.Helper()
	return newTestPlanner(f, types.AutoApprove{})
}

func TestPlannerFatalAbortsRemainingLevels(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	f := newFixture(t)
	txnID := f.begin(t)

	executed := int32(0)
	f.registry.MustRegister(&tools.Tool{
		Name:  "BoomOps",
		Class: tools.ClassVCS, // serializing: every step gets its own level
		Actions: map[string]*tools.Action{
			"boom": {Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
				atomic.AddInt32(&executed, 1)
				return nil, types.WithKind(types.KindFatal, errors.New("unrecoverable"))
			}},
			"next": {Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
				atomic.AddInt32(&executed, 1)
				return &tools.Result{Stdout: "ok"}, nil
			}},
		},
	})
	ir := &types.IntentIR{Goal: "boom", Steps: []types.Step{
		step("BoomOps", "boom", nil),
		step("BoomOps", "next", nil),
	}}

	result, err := f.planner(t).Run(context.Background(), txnID, ir, "boom")
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, int32(1), atomic.LoadInt32(&executed), "steps after a fatal failure must not run")
	assert.Equal(t, types.OutcomeFailed, result.Observations[0].Outcome)
	assert.Equal(t, types.KindFatal, result.Observations[0].ErrorKind)
	assert.Equal(t, types.OutcomeSkipped, result.Observations[1].Outcome)
}

func TestPlannerPreflightDecline(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	// Four distinct failure clusters push the success estimate to 0.35.
	for i := 0; i < 4; i++ {
		_, err := f.failures.RecordFailure("ShellOps", types.KindTransient,
			fmt.Sprintf("shell exploded variant%d", i), "")
		require.NoError(t, err)
	}

	interact := &fakeInteractor{ok: false}
	planner := newTestPlanner(f, interact)
	ir := &types.IntentIR{
		Goal:                 "risky",
		RequiresConfirmation: true,
		Steps:                []types.Step{step("ShellOps", "run", map[string]any{"command": "true"})},
	}

	_, err := planner.Run(context.Background(), txnID, ir, "risky")
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, int32(1), interact.asked)

	t.Run("approval proceeds", func(t *testing.T) {
		interact.ok = true
		result, err := planner.Run(context.Background(), txnID, ir, "risky")
		require.NoError(t, err)
		assert.False(t, result.Failed())
	})
}

func TestPlannerRecordsRemedyOutcome(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	// The remedy cluster is seen twice so it ranks into the prompt;
	// three more singles drag the estimate down to 0.35.
	var hash string
	for i := 0; i < 2; i++ {
		h, err := f.failures.RecordFailure("ShellOps", types.KindPermission,
			"operation not permitted", "rerun with sudo")
		require.NoError(t, err)
		hash = h
	}
	for i := 0; i < 3; i++ {
		_, err := f.failures.RecordFailure("ShellOps", types.KindTransient,
			fmt.Sprintf("shell exploded variant%d", i), "")
		require.NoError(t, err)
	}

	interact := &fakeInteractor{ok: true}
	planner := newTestPlanner(f, interact)
	ir := &types.IntentIR{
		Goal:                 "run it",
		RequiresConfirmation: true,
		Steps:                []types.Step{step("ShellOps", "run", map[string]any{"command": "true"})},
	}

	result, err := planner.Run(context.Background(), txnID, ir, "run it")
	require.NoError(t, err)
	require.False(t, result.Failed())
	assert.Equal(t, int32(1), interact.asked)

	recs, err := f.failures.Similar("ShellOps", "", 10)
	require.NoError(t, err)
	found := false
	for _, r := range recs {
		if r.SignatureHash == hash {
			found = true
			assert.Equal(t, 1, r.RemedyAttemptCount)
			assert.Equal(t, 1, r.RemedySuccessCount)
		}
	}
	require.True(t, found)

	t.Run("working remedy lifts the next estimate", func(t *testing.T) {
		p, err := f.failures.SuccessProbability("ShellOps", "")
		require.NoError(t, err)
		// 0.35 * 1.2
		assert.InDelta(t, 0.42, p, 1e-9)
	})
}

func TestPlannerHealthyPlanSkipsConfirmation(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)
	path := filepath.Join(f.root, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	interact := &fakeInteractor{ok: false}
	planner := newTestPlanner(f, interact)
	ir := &types.IntentIR{Goal: "read", Steps: []types.Step{
		step("FileOps", "read_file", map[string]any{"path": path}),
	}}

	result, err := planner.Run(context.Background(), txnID, ir, "read")
	require.NoError(t, err)
	assert.False(t, result.Failed())
	assert.Equal(t, int32(0), interact.asked, "clean history needs no prompt")
}

func TestPlannerCancellation(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	f := newFixture(t)
	txnID := f.begin(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.registry.MustRegister(&tools.Tool{
		Name:  "SlowOps",
		Class: tools.ClassVCS,
		Actions: map[string]*tools.Action{
			"tick": {Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
				cancel()
				return &tools.Result{Stdout: "done"}, nil
			}},
		},
	})
	ir := &types.IntentIR{Goal: "slow", Steps: []types.Step{
		step("SlowOps", "tick", nil),
		step("SlowOps", "tick", nil),
	}}

	result, err := f.planner(t).Run(ctx, txnID, ir, "slow")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, types.OutcomeOK, result.Observations[0].Outcome)
	assert.Equal(t, types.OutcomeSkipped, result.Observations[1].Outcome)
}

func TestPlannerCollectsSuggestions(t *testing.T) {
	f := newFixture(t)
	txnID := f.begin(t)

	_, err := f.failures.RecordFailure("FileOps", types.KindPermission,
		"permission denied", "check file ownership")
	require.NoError(t, err)

	ir := &types.IntentIR{Goal: "read protected", Steps: []types.Step{
		{Tool: "FileOps", Action: "read_file",
			Args: map[string]any{"path": filepath.Join(f.root, "absent")},
			Risk: types.RiskSignificant},
	}}

	result, err := f.planner(t).Run(context.Background(), txnID, ir, "read protected")
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Contains(t, result.Suggestions, "check file ownership")
}
