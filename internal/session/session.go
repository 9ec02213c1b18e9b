// Package session is the public surface of the execution core: it owns
// the process singletons (audit log, ledger, failure store, cache,
// resilience kit), the transaction lifecycle, and the choice between
// one-shot and iterative execution.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"zenus/internal/audit"
	"zenus/internal/config"
	"zenus/internal/failure"
	"zenus/internal/goal"
	"zenus/internal/intentcache"
	"zenus/internal/ledger"
	"zenus/internal/logging"
	"zenus/internal/plan"
	"zenus/internal/provider"
	"zenus/internal/resilience"
	"zenus/internal/tools"
	"zenus/internal/types"
)

// fingerprintPaths is how many world-model paths feed the cache key.
const fingerprintPaths = 10

// Option configures a session at open time.
type Option func(*Session)

// WithTranslator injects a translator, replacing the provider-backed
// default. Tests and embedding layers use this.
func WithTranslator(t types.Translator) Option {
	return func(s *Session) { s.translator = t }
}

// WithInteractor injects the confirmation prompt handler.
func WithInteractor(i types.Interactor) Option {
	return func(s *Session) { s.interact = i }
}

// WithProfile sets the active profile name for cache fingerprinting.
func WithProfile(p string) Option {
	return func(s *Session) { s.profile = p }
}

// Session is one live execution context. A session runs one top-level
// input at a time; multiple sessions may coexist in a process.
type Session struct {
	mu     sync.Mutex
	closed bool

	cfg     *config.Config
	pending atomic.Pointer[config.Config]
	watcher *config.Watcher

	auditLog   *audit.Log
	failures   *failure.Store
	ledger     *ledger.Ledger
	cache      *intentcache.Cache
	kit        *resilience.Kit
	registry   *tools.Registry
	exec       *plan.Executor
	planner    *plan.Planner
	translator types.Translator
	interact   types.Interactor
	pool       *semaphore.Weighted

	workingDir string
	profile    string
}

// Open initializes all singletons under the config's state root.
func Open(cfg *config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.StateRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state root: %w", err)
	}
	if err := logging.Initialize(cfg.StateRoot, cfg.Logging.Debug, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	s := &Session{cfg: cfg}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	s.workingDir = wd

	if s.auditLog, err = audit.Open(cfg.StateRoot); err != nil {
		return nil, err
	}
	if s.failures, err = failure.NewStore(cfg.StateRoot); err != nil {
		s.auditLog.Close()
		return nil, err
	}
	if s.ledger, err = ledger.Open(cfg.StateRoot); err != nil {
		s.failures.Close()
		s.auditLog.Close()
		return nil, err
	}
	s.cache = intentcache.New(cfg.StateRoot, cfg.CacheTTL(), cfg.Cache.MaxEntries)
	s.kit = resilience.NewKit(cfg)
	s.registry = tools.Builtins(cfg.StateRoot)
	s.pool = semaphore.NewWeighted(int64(cfg.Planner.WorkerPool))

	for _, opt := range opts {
		opt(s)
	}
	if s.interact == nil {
		s.interact = types.AutoApprove{}
	}
	if s.translator == nil {
		t, terr := provider.NewTranslator(cfg, s.kit, s.registry.Names())
		if terr != nil {
			logging.Session("translator unavailable: %v", terr)
		} else {
			s.translator = t
		}
	}

	s.exec = plan.NewExecutor(s.registry, s.auditLog, s.ledger, s.failures,
		resilience.NewRetryBudget(cfg.Retry), cfg.StepTimeout())
	s.planner = plan.NewPlanner(plan.NewAnalyzer(s.registry), s.exec, s.failures, s.interact, s.pool)

	// Hot reload: the new snapshot is staged and applied at the next
	// transaction boundary, never mid-flight.
	if w, werr := config.NewWatcher(cfg.ConfigPath(), func(next *config.Config) {
		s.pending.Store(next)
		logging.Config("staged reloaded configuration")
	}); werr == nil {
		if serr := w.Start(); serr == nil {
			s.watcher = w
		}
	}

	logging.Session("session open (state root %s)", cfg.StateRoot)
	return s, nil
}

// Close flushes and releases every singleton.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if s.watcher != nil {
		s.watcher.Stop()
	}
	var errs []error
	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.failures.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.auditLog.Close(); err != nil {
		errs = append(errs, err)
	}
	logging.CloseAll()
	return errors.Join(errs...)
}

// applyPendingConfig swaps in a staged config snapshot. Called only at
// transaction boundaries under the session lock.
func (s *Session) applyPendingConfig() {
	next := s.pending.Swap(nil)
	if next == nil {
		return
	}
	s.cfg = next
	s.exec = plan.NewExecutor(s.registry, s.auditLog, s.ledger, s.failures,
		resilience.NewRetryBudget(next.Retry), next.StepTimeout())
	s.planner = plan.NewPlanner(plan.NewAnalyzer(s.registry), s.exec, s.failures, s.interact, s.pool)
	logging.Config("applied reloaded configuration")
}

// Execute runs one input: translate then plan, or the goal loop when
// autodetection picks iterative mode.
func (s *Session) Execute(ctx context.Context, input string) (*types.ExecutionResult, error) {
	mode := DetectMode(input)
	if mode.Iterative {
		logging.Session("autodetect chose iterative (score=%d, confidence=%.2f)", mode.Score, mode.Confidence)
		return s.ExecuteIterative(ctx, input, 0)
	}
	return s.executeOneShot(ctx, input)
}

func (s *Session) executeOneShot(ctx context.Context, input string) (*types.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.translator == nil {
		return nil, ErrNoTranslator
	}
	s.applyPendingConfig()

	txn, err := s.ledger.Begin(input, input)
	if err != nil {
		return nil, err
	}
	result := &types.ExecutionResult{TxnID: txn.ID, Goal: input}
	status := ledger.TxnFailed
	defer func() {
		if cerr := s.ledger.CloseTxn(txn.ID, status); cerr != nil {
			logging.Session("failed to close transaction: %v", cerr)
		}
	}()

	fp := s.fingerprint()
	ir, cached, err := s.cache.GetOrCompute(input, fp, func() (*types.IntentIR, error) {
		return s.translator.Translate(ctx, types.TranslateRequest{
			Input:      input,
			WorkingDir: s.workingDir,
			Profile:    s.profile,
		})
	})
	if err != nil {
		result.Status = types.StatusTranslationFailure
		result.Summary = fmt.Sprintf("translation failed: %v", err)
		return result, err
	}
	if cached {
		logging.Session("intent served from cache")
	}
	result.Goal = ir.Goal

	planResult, err := s.planner.Run(ctx, txn.ID, ir, input)
	if err != nil {
		if errors.Is(err, plan.ErrDeclined) {
			result.Status = types.StatusAborted
			result.Summary = "declined at confirmation prompt"
			return result, nil
		}
		result.Status = types.StatusFailed
		result.Summary = err.Error()
		return result, err
	}

	result.Observations = planResult.Observations
	result.Suggestions = planResult.Suggestions
	result.Iterations = 1
	if planResult.Failed() {
		result.Status = types.StatusFailed
		result.Summary = failureSummary(planResult.Observations)
	} else {
		status = ledger.TxnCompleted
		result.Status = types.StatusComplete
		result.Summary = fmt.Sprintf("%d step(s) completed (speedup %.1fx)", len(ir.Steps), planResult.Speedup)
	}
	s.invalidateTouchedPaths(ir, planResult.Observations)
	return result, nil
}

// ExecuteIterative forces the goal loop. maxIter <= 0 uses the
// configured bound.
func (s *Session) ExecuteIterative(ctx context.Context, input string, maxIter int) (*types.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.translator == nil {
		return nil, ErrNoTranslator
	}
	s.applyPendingConfig()

	txn, err := s.ledger.Begin(input, input)
	if err != nil {
		return nil, err
	}
	status := ledger.TxnFailed
	defer func() {
		if cerr := s.ledger.CloseTxn(txn.ID, status); cerr != nil {
			logging.Session("failed to close transaction: %v", cerr)
		}
	}()

	runner := goal.NewRunner(s.translator, s.planner, s.interact, s.cfg.GoalLoop, s.workingDir, s.profile)
	outcome, err := runner.Run(ctx, txn.ID, input, maxIter)

	result := &types.ExecutionResult{
		TxnID:        txn.ID,
		Goal:         input,
		Status:       outcome.Status,
		Observations: outcome.Observations,
		Iterations:   outcome.Iterations,
		Summary:      outcome.Summary,
		Suggestions:  outcome.Suggestions,
	}
	if outcome.Status == types.StatusComplete {
		status = ledger.TxnCompleted
	}
	return result, err
}

// Rollback undoes the last n reversible actions. With dryRun it only
// previews.
func (s *Session) Rollback(ctx context.Context, n int, dryRun bool) (*ledger.Report, []ledger.PlannedInverse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	planned, err := s.ledger.Preview(n)
	if err != nil {
		return nil, nil, err
	}
	if len(planned) == 0 {
		return nil, nil, ErrRollbackNotFeasible
	}
	if dryRun {
		return &ledger.Report{Planned: len(planned), DryRun: true}, planned, nil
	}

	txn, err := s.ledger.Begin(fmt.Sprintf("rollback(%d)", n), "rollback")
	if err != nil {
		return nil, planned, err
	}
	report, rerr := s.ledger.Rollback(ctx, n, s.exec.ExecuteInverse(txn.ID))
	closeStatus := ledger.TxnCompleted
	if rerr != nil || (report != nil && report.Failed > 0) {
		closeStatus = ledger.TxnFailed
	}
	if cerr := s.ledger.CloseTxn(txn.ID, closeStatus); cerr != nil {
		logging.Session("failed to close rollback transaction: %v", cerr)
	}
	return report, planned, rerr
}

// RollbackLastTxn undoes every reversible action of the most recently
// closed transaction.
func (s *Session) RollbackLastTxn(ctx context.Context) (*ledger.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	last, err := s.ledger.LastClosedTxn()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrRollbackNotFeasible
	}
	txn, err := s.ledger.Begin(fmt.Sprintf("rollback txn %s", last.ID), "rollback")
	if err != nil {
		return nil, err
	}
	report, rerr := s.ledger.RollbackTxn(ctx, last.ID, s.exec.ExecuteInverse(txn.ID))
	closeStatus := ledger.TxnCompleted
	if rerr != nil || (report != nil && report.Failed > 0) {
		closeStatus = ledger.TxnFailed
	}
	if cerr := s.ledger.CloseTxn(txn.ID, closeStatus); cerr != nil {
		logging.Session("failed to close rollback transaction: %v", cerr)
	}
	return report, rerr
}

// History returns ledger records, optionally scoped to a transaction.
func (s *Session) History(txnID string, limit int) ([]ledger.ActionRecord, error) {
	return s.ledger.Records(txnID, limit)
}

// AuditHistory scans the JSONL session logs with the filter.
func (s *Session) AuditHistory(f audit.Filter) ([]audit.Record, error) {
	return audit.Scan(s.cfg.StateRoot, f)
}

// CircuitStatus is one breaker's state in the health report.
type CircuitStatus struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// Health is the session health snapshot.
type Health struct {
	Circuits         []CircuitStatus `json:"circuits"`
	RetriesRemaining int             `json:"retries_remaining"`
	CacheHits        int             `json:"cache_hits"`
	CacheMisses      int             `json:"cache_misses"`
	CacheSize        int             `json:"cache_size"`
}

// HealthReport reports circuit states, retry budget, and cache stats.
func (s *Session) HealthReport() Health {
	h := Health{RetriesRemaining: s.kit.RetriesRemaining()}
	for _, svc := range s.kit.Services() {
		h.Circuits = append(h.Circuits, CircuitStatus{
			Service: svc,
			State:   string(s.kit.BreakerState(svc)),
		})
	}
	h.CacheHits, h.CacheMisses, h.CacheSize = s.cache.Stats()
	return h
}

// fingerprint builds the cache context fingerprint from the working
// directory, profile, and the world model's top paths.
func (s *Session) fingerprint() intentcache.ContextFingerprint {
	return intentcache.ContextFingerprint{
		WorkingDir: s.workingDir,
		Profile:    s.profile,
		Paths:      topWorldPaths(s.cfg.StateRoot, fingerprintPaths),
	}
}

// invalidateTouchedPaths drops cached intents mentioning paths that
// mutating steps changed.
func (s *Session) invalidateTouchedPaths(ir *types.IntentIR, observations []types.Observation) {
	for i, obs := range observations {
		if obs.Outcome != types.OutcomeOK || i >= len(ir.Steps) ||
			ir.Steps[i].Risk < types.RiskModify {
			continue
		}
		for _, key := range []string{"path", "dest"} {
			if p, ok := ir.Steps[i].Args[key].(string); ok && p != "" {
				s.cache.Invalidate(p)
			}
		}
	}
}

func failureSummary(observations []types.Observation) string {
	var parts []string
	for _, o := range observations {
		if o.Outcome == types.OutcomeFailed {
			parts = append(parts, o.Summary())
		}
	}
	if len(parts) == 0 {
		return "execution failed"
	}
	return "failed: " + strings.Join(parts, "; ")
}
