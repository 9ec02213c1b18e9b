package resilience

import (
	"context"
	"sort"
	"sync"

	"zenus/internal/config"
)

// Kit bundles per-service circuit breakers with a shared retry budget.
// It is the single resilience surface the rest of the system talks to,
// and it is safe for concurrent use.
type Kit struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	budget   *RetryBudget
	cbCfg    config.CircuitBreakerConfig
}

// NewKit creates a kit from config. Breakers are created lazily, one
// per service name.
func NewKit(cfg *config.Config) *Kit {
	return &Kit{
		breakers: make(map[string]*CircuitBreaker),
		budget:   NewRetryBudget(cfg.Retry),
		cbCfg:    cfg.CircuitBreaker,
	}
}

// Call runs fn with retries, each attempt passing through the service's
// breaker. Retriable failures are retried within the shared budget; an
// open breaker fails fast without consuming attempts against the remote
// side.
func (k *Kit) Call(ctx context.Context, service string, fn func(context.Context) error) error {
	return k.budget.Do(ctx, service, func(ctx context.Context) error {
		return k.breaker(service).callLocked(ctx, &k.mu, fn)
	})
}

// BreakerState reports the state of the service's breaker, "closed" if
// it was never used.
func (k *Kit) BreakerState(service string) BreakerState {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.breakers[service]
	if !ok {
		return StateClosed
	}
	return b.State()
}

// Services returns the names of all breakers created so far.
func (k *Kit) Services() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.breakers))
	for name := range k.breakers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RetriesRemaining reports the unspent retry budget for the current
// window. The budget guards its own state.
func (k *Kit) RetriesRemaining() int {
	return k.budget.Remaining()
}

func (k *Kit) breaker(service string) *CircuitBreaker {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.breakers[service]
	if !ok {
		b = NewCircuitBreaker(service, k.cbCfg)
		k.breakers[service] = b
	}
	return b
}

// callLocked runs fn through the breaker, holding mu only around state
// reads and writes so concurrent calls do not serialize on the remote
// call itself.
func (b *CircuitBreaker) callLocked(ctx context.Context, mu *sync.Mutex, fn func(context.Context) error) error {
	mu.Lock()
	state := b.State()
	mu.Unlock()
	if state == StateOpen {
		return b.rejectOpen()
	}

	err := fn(ctx)

	mu.Lock()
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	mu.Unlock()
	return err
}
