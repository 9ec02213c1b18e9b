package resilience

import (
	"context"
	"errors"
	"fmt"

	"zenus/internal/logging"
	"zenus/internal/types"
)

// FallbackChain tries named alternatives in strict priority order until
// one succeeds. The last provider that worked is remembered for
// observability; it never changes the attempt order.
type FallbackChain struct {
	names          []string
	lastSuccessful string
}

// NewFallbackChain creates a chain over the named alternatives, highest
// priority first.
func NewFallbackChain(names []string) *FallbackChain {
	return &FallbackChain{names: append([]string(nil), names...)}
}

// Order returns the attempt order, which is always the configured
// priority order.
func (f *FallbackChain) Order() []string {
	return append([]string(nil), f.names...)
}

// LastSuccessful returns the most recent provider that completed a
// call, or "" when none has yet.
func (f *FallbackChain) LastSuccessful() string {
	return f.lastSuccessful
}

// Do calls fn for each alternative until one succeeds. Fatal errors
// abort the cascade; everything else falls through to the next name.
func (f *FallbackChain) Do(ctx context.Context, fn func(ctx context.Context, name string) error) error {
	var errs []error
	for _, name := range f.names {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, name)
		if err == nil {
			if f.lastSuccessful != name {
				logging.Resilience("fallback: %s answered the call", name)
			}
			f.lastSuccessful = name
			return nil
		}
		if types.Classify(err).Fatal() {
			return err
		}
		logging.Resilience("fallback: %s failed: %v", name, err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}
