// Package goal implements the iterative translate-plan-reflect loop
// used for open-ended goals. Each iteration translates the goal plus
// the observation trail into a fresh plan, executes it, and asks the
// translator whether the goal was achieved.
package goal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zenus/internal/config"
	"zenus/internal/logging"
	"zenus/internal/plan"
	"zenus/internal/types"
)

// trailWindow bounds how many observation summaries feed back into the
// prompt: the first (anchor) plus the most recent 19.
const trailWindow = 20

// completionConfidence is the minimum reflection confidence for an
// achieved goal to count as complete.
const completionConfidence = 0.7

// stuckConfidence: a repeated goal below this confidence counts toward
// stuck detection.
const stuckConfidence = 0.4

// Runner drives the goal loop. The planner executes each iteration's
// IR; the interactor fields stuck and batch-boundary prompts.
type Runner struct {
	translator types.Translator
	planner    *plan.Planner
	interact   types.Interactor
	cfg        config.GoalLoopConfig

	workingDir string
	profile    string
}

// NewRunner wires a goal loop runner.
func NewRunner(translator types.Translator, planner *plan.Planner,
	interact types.Interactor, cfg config.GoalLoopConfig, workingDir, profile string) *Runner {
	if interact == nil {
		interact = types.AutoApprove{}
	}
	return &Runner{
		translator: translator,
		planner:    planner,
		interact:   interact,
		cfg:        cfg,
		workingDir: workingDir,
		profile:    profile,
	}
}

// Outcome is the loop's terminal report.
type Outcome struct {
	Status       types.ExecStatus
	Observations []types.Observation
	Iterations   int
	Summary      string
	Suggestions  []string
}

// Run iterates until the goal is achieved, the iteration bound is hit,
// translation fails twice in a row, or the user aborts at a prompt.
func (r *Runner) Run(ctx context.Context, txnID, goalText string, maxIter int) (*Outcome, error) {
	if maxIter <= 0 {
		maxIter = r.cfg.MaxIterations
	}

	var (
		observations []types.Observation
		lastGoal     string
		stuckCount   int
		transFails   int
		suggestions  []string
	)

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return &Outcome{Status: types.StatusAborted, Observations: observations,
				Iterations: iteration, Summary: "cancelled"}, err
		}
		if iteration >= maxIter {
			logging.Goal("max iterations (%d) reached", maxIter)
			return &Outcome{
				Status:       types.StatusMaxIterations,
				Observations: observations,
				Iterations:   iteration,
				Summary:      fmt.Sprintf("stopped after %d iterations without completing the goal", iteration),
				Suggestions:  suggestions,
			}, nil
		}

		ir, err := r.translator.Translate(ctx, types.TranslateRequest{
			Input:      goalText,
			WorkingDir: r.workingDir,
			Profile:    r.profile,
			Trail:      Trail(observations),
		})
		if err != nil {
			transFails++
			logging.Goal("translation failed (%d consecutive): %v", transFails, err)
			if transFails >= 2 {
				return &Outcome{
					Status:       types.StatusTranslationFailure,
					Observations: observations,
					Iterations:   iteration,
					Summary:      fmt.Sprintf("translation failed twice in a row: %v", err),
					Suggestions:  suggestions,
				}, nil
			}
			continue
		}
		transFails = 0

		planResult, err := r.planner.Run(ctx, txnID, ir, goalText)
		if err != nil {
			if errors.Is(err, plan.ErrDeclined) {
				return &Outcome{Status: types.StatusAborted, Observations: observations,
					Iterations: iteration, Summary: "declined at confirmation prompt"}, nil
			}
			return &Outcome{Status: types.StatusFailed, Observations: observations,
				Iterations: iteration, Summary: err.Error()}, err
		}
		observations = append(observations, planResult.Observations...)
		suggestions = mergeSuggestions(suggestions, planResult.Suggestions)

		reflection, err := r.translator.Reflect(ctx, goalText, Trail(observations))
		if err != nil {
			logging.Goal("reflection failed: %v", err)
			reflection = &types.Reflection{Confidence: 0, Reasoning: err.Error()}
		}
		logging.Goal("iteration %d: achieved=%v confidence=%.2f", iteration, reflection.Achieved, reflection.Confidence)

		if reflection.Achieved && reflection.Confidence >= completionConfidence {
			return &Outcome{
				Status:       types.StatusComplete,
				Observations: observations,
				Iterations:   iteration + 1,
				Summary:      reflection.Reasoning,
				Suggestions:  suggestions,
			}, nil
		}

		// Stuck detection: the translator keeps producing the same
		// sub-goal without conviction.
		if ir.Goal == lastGoal && reflection.Confidence < stuckConfidence {
			stuckCount++
		} else {
			stuckCount = 0
		}
		lastGoal = ir.Goal
		if stuckCount >= r.cfg.StuckThreshold {
			ok, perr := r.interact.Confirm(ctx,
				fmt.Sprintf("The loop may be stuck (%d iterations on %q with low confidence). Keep going?", stuckCount, ir.Goal))
			if perr != nil || !ok {
				return &Outcome{Status: types.StatusAborted, Observations: observations,
					Iterations: iteration + 1, Summary: "aborted after stuck prompt",
					Suggestions: suggestions}, nil
			}
			stuckCount = 0
		}

		// Batch boundary: ask before starting every batch after the
		// first.
		next := iteration + 1
		if next%r.cfg.BatchSize == 0 {
			ok, perr := r.interact.Confirm(ctx,
				fmt.Sprintf("Completed %d iterations. Continue with the next batch?", next))
			if perr != nil || !ok {
				return &Outcome{Status: types.StatusAborted, Observations: observations,
					Iterations: next, Summary: "aborted at batch boundary",
					Suggestions: suggestions}, nil
			}
		}
	}
}

// Trail serializes observations for the augmented prompt, keeping the
// first observation as an anchor and the most recent window otherwise.
func Trail(observations []types.Observation) string {
	if len(observations) == 0 {
		return ""
	}
	window := observations
	if len(observations) > trailWindow {
		window = make([]types.Observation, 0, trailWindow)
		window = append(window, observations[0])
		window = append(window, observations[len(observations)-(trailWindow-1):]...)
	}
	lines := make([]string, 0, len(window))
	for _, o := range window {
		lines = append(lines, o.Summary())
	}
	return strings.Join(lines, "\n")
}

func mergeSuggestions(into, add []string) []string {
	seen := map[string]bool{}
	for _, s := range into {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] && len(into) < 5 {
			into = append(into, s)
			seen[s] = true
		}
	}
	return into
}
