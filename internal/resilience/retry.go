package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"zenus/internal/config"
	"zenus/internal/logging"
	"zenus/internal/types"
)

// RetryBudget retries a call on retriable error kinds with exponential
// backoff, while charging every retry against a shared per-window
// budget. The budget keeps a stack of cascading per-step retries from
// turning one bad network moment into minutes of waiting. One budget is
// shared across concurrent steps, so the window state guards itself.
type RetryBudget struct {
	cfg config.RetryConfig

	mu    sync.Mutex
	spent []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	randF func() float64
}

// NewRetryBudget creates a retry budget from config.
func NewRetryBudget(cfg config.RetryConfig) *RetryBudget {
	return &RetryBudget{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
		randF: rand.Float64,
	}
}

// Remaining returns how many retries the current window still allows.
func (r *RetryBudget) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	left := r.cfg.BudgetTotal - len(r.spent)
	if left < 0 {
		return 0
	}
	return left
}

// Do runs fn up to max_attempts times. Only retriable kinds (transient,
// timeout) are retried; every other error returns immediately. When the
// window budget is spent the last error is wrapped budget_exhausted.
func (r *RetryBudget) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err

		kind := types.Classify(err)
		if !kind.Retriable() {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if !r.charge() {
			logging.Resilience("%s: retry budget exhausted", label)
			return types.WithKind(types.KindBudgetExhausted,
				fmt.Errorf("%w: %w", ErrBudgetExhausted, last))
		}

		delay := r.delay(attempt)
		logging.ResilienceDebug("%s: attempt %d failed (%s), retrying in %s", label, attempt, kind, delay)
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return last
}

// charge spends one unit of the window budget, reporting false when
// none remain.
func (r *RetryBudget) charge() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)
	if len(r.spent) >= r.cfg.BudgetTotal {
		return false
	}
	r.spent = append(r.spent, now)
	return true
}

// prune drops spent entries older than the window. Callers hold mu.
func (r *RetryBudget) prune(now time.Time) {
	window := time.Duration(r.cfg.WindowSeconds * float64(time.Second))
	cutoff := now.Add(-window)
	kept := r.spent[:0]
	for _, t := range r.spent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.spent = kept
}

// delay computes the backoff before attempt k+1:
// min(max, initial * base^(k-1)), with optional jitter in [0.5x, 1.5x].
func (r *RetryBudget) delay(attempt int) time.Duration {
	d := r.cfg.InitialDelaySeconds * math.Pow(r.cfg.ExponentialBase, float64(attempt-1))
	if d > r.cfg.MaxDelaySeconds {
		d = r.cfg.MaxDelaySeconds
	}
	if r.cfg.Jitter {
		d *= 0.5 + r.randF()
	}
	return time.Duration(d * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
