package plan

import (
	"context"
	"sync"
	"time"

	"zenus/internal/audit"
	"zenus/internal/failure"
	"zenus/internal/ledger"
	"zenus/internal/logging"
	"zenus/internal/resilience"
	"zenus/internal/tools"
	"zenus/internal/types"
)

// Executor runs single steps: tool resolution, retries for retriable
// kinds, audit and ledger recording. Errors never escape as errors;
// every attempted step yields exactly one Observation.
type Executor struct {
	registry *tools.Registry
	audit    *audit.Log
	ledger   *ledger.Ledger
	failures *failure.Store
	retry    *resilience.RetryBudget

	// stepTimeout applies to classes that are not timeout-exempt.
	stepTimeout time.Duration

	// proposed holds failure signatures whose remedies were surfaced to
	// the user, keyed by tool. The tool's next execution settles them.
	mu       sync.Mutex
	proposed map[string]map[string]bool
}

// NewExecutor wires an executor to the session singletons.
func NewExecutor(registry *tools.Registry, auditLog *audit.Log, led *ledger.Ledger,
	failures *failure.Store, retry *resilience.RetryBudget, stepTimeout time.Duration) *Executor {
	return &Executor{
		registry:    registry,
		audit:       auditLog,
		ledger:      led,
		failures:    failures,
		retry:       retry,
		stepTimeout: stepTimeout,
		proposed:    make(map[string]map[string]bool),
	}
}

// NoteRemedies records that remedies for the tool's failure clusters
// were shown to the user, so their outcome can be reported back after
// the tool runs again.
func (e *Executor) NoteRemedies(tool string, hashes []string) {
	if len(hashes) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.proposed[tool]
	if set == nil {
		set = make(map[string]bool)
		e.proposed[tool] = set
	}
	for _, h := range hashes {
		set[h] = true
	}
}

// settleRemedies reports whether the surfaced remedies for the tool
// worked, then forgets them.
func (e *Executor) settleRemedies(tool string, worked bool) {
	e.mu.Lock()
	set := e.proposed[tool]
	delete(e.proposed, tool)
	e.mu.Unlock()
	for h := range set {
		if err := e.failures.RecordRemedyOutcome(h, worked); err != nil {
			logging.Exec("failed to record remedy outcome: %v", err)
		}
	}
}

// Execute runs one step inside a transaction. Mutating successful steps
// are appended to the ledger with their rollback strategy.
func (e *Executor) Execute(ctx context.Context, txnID string, stepIndex int, step types.Step) types.Observation {
	obs, result, mutating := e.run(ctx, stepIndex, step)

	e.audit.Observation(txnID, step, obs)

	e.settleRemedies(step.Tool, obs.Outcome == types.OutcomeOK)

	if obs.Outcome == types.OutcomeOK && mutating && result != nil {
		rec := ledger.ActionRecord{
			TxnID:      txnID,
			StepIndex:  stepIndex,
			Tool:       step.Tool,
			Action:     step.Action,
			Args:       step.Args,
			Result:     types.TailString(result.Stdout),
			Reversible: result.Reversible,
			Strategy:   result.Strategy,
		}
		if _, err := e.ledger.Append(rec); err != nil {
			logging.Exec("failed to record action in ledger: %v", err)
		}
	}
	if obs.Outcome == types.OutcomeFailed {
		message := obs.Stderr
		if message == "" {
			message = obs.Stdout
		}
		if _, err := e.failures.RecordFailure(step.Tool, obs.ErrorKind, message, ""); err != nil {
			logging.Exec("failed to record failure: %v", err)
		}
	}
	return obs
}

// ExecuteInverse runs a rollback step. It is audited but never
// recorded in the ledger; the original record is marked rolled_back by
// the caller instead. The signature matches ledger.InverseRunner.
func (e *Executor) ExecuteInverse(txnID string) ledger.InverseRunner {
	return func(ctx context.Context, step types.Step) types.Observation {
		obs, _, _ := e.run(ctx, -1, step)
		e.audit.Observation(txnID, step, obs)
		return obs
	}
}

// run resolves and executes the step, classifying any error into the
// Observation. The returned Result carries rollback data for the
// caller.
func (e *Executor) run(ctx context.Context, stepIndex int, step types.Step) (types.Observation, *tools.Result, bool) {
	start := time.Now()
	obs := types.Observation{
		StepIndex:  stepIndex,
		Tool:       step.Tool,
		Action:     step.Action,
		ArgsDigest: types.DigestArgs(step.Args),
	}
	fail := func(err error) (types.Observation, *tools.Result, bool) {
		obs.Outcome = types.OutcomeFailed
		obs.ErrorKind = types.Classify(err)
		obs.Stderr = err.Error()
		obs.ElapsedMs = time.Since(start).Milliseconds()
		return obs, nil, false
	}

	tool, action, err := e.registry.Resolve(step.Tool, step.Action)
	if err != nil {
		return fail(err)
	}
	if err := tools.ValidateArgs(action, step.Args); err != nil {
		return fail(err)
	}

	if !tool.Class.NoTimeout() && e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	var result *tools.Result
	err = e.retry.Do(ctx, step.Tool+"."+step.Action, func(ctx context.Context) error {
		var herr error
		result, herr = action.Handler(ctx, step.Args)
		return herr
	})
	obs.ElapsedMs = time.Since(start).Milliseconds()

	if result != nil {
		obs.Stdout = types.TailString(result.Stdout)
		obs.Stderr = result.Stderr
	}
	if err != nil {
		obs.Outcome = types.OutcomeFailed
		obs.ErrorKind = types.Classify(err)
		if obs.Stderr == "" {
			obs.Stderr = err.Error()
		}
		logging.Exec("%s.%s failed after %dms: %s (%s)", step.Tool, step.Action, obs.ElapsedMs, err, obs.ErrorKind)
		return obs, result, action.Mutating
	}

	obs.Outcome = types.OutcomeOK
	logging.ExecDebug("%s.%s ok in %dms", step.Tool, step.Action, obs.ElapsedMs)
	return obs, result, action.Mutating
}
