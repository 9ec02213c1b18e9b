// Package resilience wraps unreliable calls (LLM providers, network
// tools) with circuit breaking, budgeted retries, and provider
// fallback. The layers compose as fallback(retry(breaker(call))).
package resilience

import (
	"context"
	"time"

	"zenus/internal/config"
	"zenus/internal/logging"
	"zenus/internal/types"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards one named service. Failures are counted over a
// sliding window; the breaker opens at the threshold, rejects calls for
// the timeout, then probes in half-open until the success threshold
// closes it again. Not safe for concurrent use; callers hold their own
// serialization (the session owns one breaker per service).
type CircuitBreaker struct {
	name string
	cfg  config.CircuitBreakerConfig

	state     BreakerState
	failures  []time.Time
	successes int
	openedAt  time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named service.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// State returns the current state, applying the open->half_open
// transition if the timeout has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout() {
		b.state = StateHalfOpen
		b.successes = 0
		logging.Resilience("breaker %s: open -> half_open", b.name)
	}
	return b.state
}

// Call runs fn through the breaker. An open breaker rejects immediately
// with ErrCircuitOpen (kind circuit_open) without invoking fn.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if b.State() == StateOpen {
		return b.rejectOpen()
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *CircuitBreaker) rejectOpen() error {
	return types.WithKind(types.KindCircuitOpen, ErrCircuitOpen)
}

func (b *CircuitBreaker) recordFailure() {
	switch b.state {
	case StateHalfOpen:
		// Any failure during probing re-opens immediately.
		b.open()
	case StateClosed:
		now := b.now()
		b.failures = append(b.failures, now)
		b.pruneWindow(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

func (b *CircuitBreaker) recordSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = nil
			b.successes = 0
			logging.Resilience("breaker %s: half_open -> closed", b.name)
		}
	case StateClosed:
		// Success does not reset the window; only time does.
	}
}

func (b *CircuitBreaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = nil
	b.successes = 0
	logging.Resilience("breaker %s: -> open for %s", b.name, b.timeout())
}

func (b *CircuitBreaker) pruneWindow(now time.Time) {
	window := time.Duration(b.cfg.WindowSeconds * float64(time.Second))
	cutoff := now.Add(-window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *CircuitBreaker) timeout() time.Duration {
	return time.Duration(b.cfg.TimeoutSeconds * float64(time.Second))
}
