package resilience

import "errors"

// Resilience errors.
var (
	// ErrCircuitOpen is returned when a call is rejected without being
	// attempted because the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBudgetExhausted is returned when the retry budget for the
	// current window is spent.
	ErrBudgetExhausted = errors.New("retry budget exhausted")

	// ErrAllProvidersFailed is returned when every provider in the
	// fallback chain failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)
