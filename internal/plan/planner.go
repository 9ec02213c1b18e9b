package plan

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"zenus/internal/failure"
	"zenus/internal/logging"
	"zenus/internal/types"
)

// Result is the outcome of one planner invocation. Observations are in
// IR step order regardless of dispatch order.
type Result struct {
	Observations []types.Observation
	Levels       [][]int
	Sequential   bool
	Speedup      float64
	Suggestions  []string
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	for _, o := range r.Observations {
		if o.Outcome == types.OutcomeFailed {
			return true
		}
	}
	return false
}

// Planner executes an IR level by level, independent steps of a level
// concurrently over the shared worker pool.
type Planner struct {
	analyzer *Analyzer
	exec     *Executor
	failures *failure.Store
	interact types.Interactor

	// pool is process-global; the planner never holds more than the
	// pool width and releases permits on every path.
	pool *semaphore.Weighted
}

// NewPlanner wires a planner.
func NewPlanner(analyzer *Analyzer, exec *Executor, failures *failure.Store,
	interact types.Interactor, pool *semaphore.Weighted) *Planner {
	if interact == nil {
		interact = types.AutoApprove{}
	}
	return &Planner{
		analyzer: analyzer,
		exec:     exec,
		failures: failures,
		interact: interact,
		pool:     pool,
	}
}

// Run executes the IR inside the transaction. The returned error is
// non-nil only for plan-level aborts (cycle, declined confirmation,
// cancellation); step failures travel inside the Observations.
func (p *Planner) Run(ctx context.Context, txnID string, ir *types.IntentIR, userInput string) (*Result, error) {
	if err := p.preflight(ctx, ir, userInput); err != nil {
		return nil, err
	}

	analysis, err := p.analyzer.Analyze(ir.Steps)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Observations: make([]types.Observation, len(ir.Steps)),
		Levels:       analysis.Levels,
		Sequential:   analysis.Sequential,
		Speedup:      analysis.SpeedupFactor(len(ir.Steps)),
	}

	aborted := false
	for k, level := range analysis.Levels {
		if aborted || ctx.Err() != nil {
			for _, idx := range level {
				result.Observations[idx] = skipped(idx, ir.Steps[idx])
			}
			continue
		}

		logging.Plan("level %d/%d: %d step(s)", k+1, len(analysis.Levels), len(level))
		if len(level) == 1 {
			idx := level[0]
			result.Observations[idx] = p.exec.Execute(ctx, txnID, idx, ir.Steps[idx])
		} else {
			p.dispatch(ctx, txnID, ir, level, result.Observations)
		}

		for _, idx := range level {
			obs := result.Observations[idx]
			if obs.Outcome == types.OutcomeFailed && obs.ErrorKind.Fatal() {
				logging.Plan("fatal failure at step %d, aborting remaining levels", idx)
				aborted = true
			}
		}
	}

	p.collectSuggestions(ir, result)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// preflight warns before running a plan whose tools keep failing.
func (p *Planner) preflight(ctx context.Context, ir *types.IntentIR, userInput string) error {
	prob := 1.0
	worstTool := ""
	for _, tool := range uniqueTools(ir.Steps) {
		tp, err := p.failures.SuccessProbability(tool, userInput)
		if err != nil {
			logging.Plan("preflight probability unavailable for %s: %v", tool, err)
			continue
		}
		if tp < prob {
			prob = tp
			worstTool = tool
		}
	}

	if prob >= 0.5 || (!ir.RequiresConfirmation && ir.MaxRisk() < types.RiskSignificant) {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "This plan has an estimated %.0f%% chance of success (%s has failed recently).\n", prob*100, worstTool)
	var remedyHashes []string
	if recs, err := p.failures.Similar(worstTool, userInput, 3); err == nil {
		for _, r := range recs {
			if r.SuggestedRemedy != "" {
				remedyHashes = append(remedyHashes, r.SignatureHash)
			}
			fmt.Fprintf(&sb, "  - %s\n", r.Bullet())
		}
	}
	sb.WriteString("Proceed anyway?")

	ok, err := p.interact.Confirm(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return ErrDeclined
	}
	p.exec.NoteRemedies(worstTool, remedyHashes)
	return nil
}

// dispatch runs one level's steps concurrently under the worker pool.
func (p *Planner) dispatch(ctx context.Context, txnID string, ir *types.IntentIR, level []int, out []types.Observation) {
	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range level {
		idx := idx
		g.Go(func() error {
			if err := p.pool.Acquire(gctx, 1); err != nil {
				out[idx] = skipped(idx, ir.Steps[idx])
				return nil
			}
			defer p.pool.Release(1)
			out[idx] = p.exec.Execute(gctx, txnID, idx, ir.Steps[idx])
			return nil
		})
	}
	// Workers never return errors; failures live in the Observations.
	_ = g.Wait()
}

// collectSuggestions gathers user-facing remediation bullets for failed
// high-risk steps, and marks surfaced remedies so the tool's next run
// reports their outcome.
func (p *Planner) collectSuggestions(ir *types.IntentIR, result *Result) {
	seen := map[string]bool{}
	for i, obs := range result.Observations {
		if obs.Outcome != types.OutcomeFailed || seen[obs.Tool] {
			continue
		}
		if ir.Steps[i].Risk < types.RiskSignificant && obs.ErrorKind == types.KindTransient {
			continue
		}
		seen[obs.Tool] = true
		recs, err := p.failures.Similar(obs.Tool, "", 5)
		if err != nil {
			continue
		}
		var hashes []string
		for _, r := range recs {
			if r.SuggestedRemedy != "" {
				hashes = append(hashes, r.SignatureHash)
			}
		}
		p.exec.NoteRemedies(obs.Tool, hashes)
		for _, r := range recs {
			result.Suggestions = append(result.Suggestions, r.Bullet())
			if len(result.Suggestions) >= 5 {
				return
			}
		}
	}
}

func skipped(idx int, step types.Step) types.Observation {
	return types.Observation{
		StepIndex:  idx,
		Tool:       step.Tool,
		Action:     step.Action,
		Outcome:    types.OutcomeSkipped,
		ArgsDigest: types.DigestArgs(step.Args),
	}
}

func uniqueTools(steps []types.Step) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range steps {
		if !seen[s.Tool] {
			seen[s.Tool] = true
			out = append(out, s.Tool)
		}
	}
	return out
}
