package goal

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
	"golang.org/x/sync/semaphore"

	"zenus/internal/audit"
	"zenus/internal/config"
	"zenus/internal/failure"
	"zenus/internal/ledger"
	"zenus/internal/plan"
	"zenus/internal/resilience"
	"zenus/internal/tools"
	"zenus/internal/types"
)

// scriptedTranslator replays canned translations and reflections.
type scriptedTranslator struct {
	translate func(call int, req types.TranslateRequest) (*types.IntentIR, error)
	reflect   func(call int) (*types.Reflection, error)

	translateCalls int32
	reflectCalls   int32
	lastTrail      string
}

func (s *scriptedTranslator) Translate(ctx context.Context, req types.TranslateRequest) (*types.IntentIR, error) {
	n := int(atomic.AddInt32(&s.translateCalls, 1))
	s.lastTrail = req.Trail
	return s.translate(n, req)
}

func (s *scriptedTranslator) Reflect(ctx context.Context, goal, trail string) (*types.Reflection, error) {
	n := int(atomic.AddInt32(&s.reflectCalls, 1))
	if s.reflect == nil {
		return &types.Reflection{Achieved: false, Confidence: 0.5}, nil
	}
	return s.reflect(n)
}

type promptRecorder struct {
	ok      bool
	prompts []string
}

func (p *promptRecorder) Confirm(ctx context.Context, prompt string) (bool, error) {
	p.prompts = append(p.prompts, prompt)
	return p.ok, nil
}

type loopFixture struct {
	root    string
	ledger  *ledger.Ledger
	planner *plan.Planner
	txnID   string
}

func newLoopFixture(t *testing.T) *loopFixture {
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
	exec := plan.NewExecutor(reg, al, led, fs, resilience.NewRetryBudget(retryCfg), 0)
	planner := plan.NewPlanner(plan.NewAnalyzer(reg), exec, fs, types.AutoApprove{}, semaphore.NewWeighted(4))

	txn, err := led.Begin("loop goal", "loop goal")
	require.NoError(t, err)

	return &loopFixture{root: root, ledger: led, planner: planner, txnID: txn.ID}
}

func loopConfig() config.GoalLoopConfig {
	return config.GoalLoopConfig{MaxIterations: 50, BatchSize: 12, StuckThreshold: 3}
}

func readStepIR(goal, path string) *types.IntentIR {
	return &types.IntentIR{
		Goal: goal,
		Steps: []types.Step{{
			Tool: "FileOps", Action: "read_file",
			Args: map[string]any{"path": path},
		}},
	}
}

func TestLoopCompletesOnConfidentReflection(t *testing.T) {
	f := newLoopFixture(t)
	path := filepath.Join(f.root, "done.txt")

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			if call == 1 {
				return &types.IntentIR{Goal: "create marker", Steps: []types.Step{{
					Tool: "FileOps", Action: "write_file",
					Args: map[string]any{"path": path, "content": "done"},
				}}}, nil
			}
			return readStepIR("verify marker", path), nil
		},
		reflect: func(call int) (*types.Reflection, error) {
			if call < 2 {
				return &types.Reflection{Achieved: false, Confidence: 0.5, Reasoning: "not verified"}, nil
			}
			return &types.Reflection{Achieved: true, Confidence: 0.9, Reasoning: "marker written and verified"}, nil
		},
	}

	r := NewRunner(tr, f.planner, nil, loopConfig(), f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "create the marker file", 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, out.Status)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, "marker written and verified", out.Summary)
	assert.Len(t, out.Observations, 2)

	t.Run("trail feeds later translations", func(t *testing.T) {
		assert.Contains(t, tr.lastTrail, "write_file")
	})
}

func TestLoopStopsAtMaxIterations(t *testing.T) {
	f := newLoopFixture(t)
	missing := filepath.Join(f.root, "never-there")

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			return readStepIR(fmt.Sprintf("attempt %d", call), missing), nil
		},
		reflect: func(call int) (*types.Reflection, error) {
			return &types.Reflection{Achieved: false, Confidence: 0.6, Reasoning: "file still missing"}, nil
		},
	}

	r := NewRunner(tr, f.planner, nil, loopConfig(), f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "read a file that never appears", 3)
	require.NoError(t, err)
	assert.Equal(t, types.StatusMaxIterations, out.Status)
	assert.Equal(t, 3, out.Iterations)
	assert.Len(t, out.Observations, 3)
}

func TestLoopTranslationFailureTwiceAborts(t *testing.T) {
	f := newLoopFixture(t)

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			return nil, errors.New("provider returned garbage")
		},
	}

	r := NewRunner(tr, f.planner, nil, loopConfig(), f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "anything", 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranslationFailure, out.Status)
	assert.Equal(t, int32(2), tr.translateCalls)
}

func TestLoopSingleTranslationFailureRecovers(t *testing.T) {
	f := newLoopFixture(t)
	path := filepath.Join(f.root, "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			if call == 1 {
				return nil, errors.New("hiccup")
			}
			return readStepIR("read it", path), nil
		},
		reflect: func(call int) (*types.Reflection, error) {
			return &types.Reflection{Achieved: true, Confidence: 0.95, Reasoning: "read"}, nil
		},
	}

	r := NewRunner(tr, f.planner, nil, loopConfig(), f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "read x", 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, out.Status)
}

func TestLoopStuckPromptAborts(t *testing.T) {
	f := newLoopFixture(t)
	missing := filepath.Join(f.root, "gone")

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			// Same sub-goal every time.
			return readStepIR("find the file", missing), nil
		},
		reflect: func(call int) (*types.Reflection, error) {
			return &types.Reflection{Achieved: false, Confidence: 0.1, Reasoning: "no progress"}, nil
		},
	}

	interact := &promptRecorder{ok: false}
	r := NewRunner(tr, f.planner, interact, loopConfig(), f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "find the file", 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, out.Status)
	require.Len(t, interact.prompts, 1)
	assert.Contains(t, interact.prompts[0], "stuck")
	// Goal repeats start counting on the second iteration; the threshold
	// of three fires on the fourth.
	assert.Equal(t, 4, out.Iterations)
}

func TestLoopBatchBoundaryPrompt(t *testing.T) {
	f := newLoopFixture(t)
	missing := filepath.Join(f.root, "gone")

	tr := &scriptedTranslator{
		translate: func(call int, req types.TranslateRequest) (*types.IntentIR, error) {
			// Distinct goals keep stuck detection quiet.
			return readStepIR(fmt.Sprintf("attempt %d", call), missing), nil
		},
		reflect: func(call int) (*types.Reflection, error) {
			return &types.Reflection{Achieved: false, Confidence: 0.6}, nil
		},
	}

	cfg := loopConfig()
	cfg.BatchSize = 3
	interact := &promptRecorder{ok: false}
	r := NewRunner(tr, f.planner, interact, cfg, f.root, "default")
	out, err := r.Run(context.Background(), f.txnID, "keep trying", 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, out.Status)
	assert.Equal(t, 3, out.Iterations, "stops at the first batch boundary")
	require.Len(t, interact.prompts, 1)
	assert.Contains(t, interact.prompts[0], "next batch")
}

func TestTrailWindowsLongHistories(t *testing.T) {
	var observations []types.Observation
	for i := 0; i < 30; i++ {
		observations = append(observations, types.Observation{
			StepIndex: i, Tool: "FileOps", Action: fmt.Sprintf("act%02d", i),
			Outcome: types.OutcomeOK,
		})
	}

	trail := Trail(observations)
	assert.Contains(t, trail, "act00", "anchor observation survives")
	assert.Contains(t, trail, "act29")
	assert.Contains(t, trail, "act11", "window keeps the recent 19")
	assert.NotContains(t, trail, "act10")
	assert.NotContains(t, trail, "act05")

	t.Run("empty trail", func(t *testing.T) {
		assert.Equal(t, "", Trail(nil))
	})
}
