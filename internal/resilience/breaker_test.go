package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/config"
	"zenus/internal/types"
)

var errRemote = errors.New("remote unavailable")

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker("llm:test", config.CircuitBreakerConfig{
		FailureThreshold: 3,
		TimeoutSeconds:   30,
		SuccessThreshold: 2,
		WindowSeconds:    60,
	})
	b.now = func() time.Time { return clock }
	return b, &clock
}

func fail(context.Context) error { return errRemote }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, StateClosed, b.State())
		require.ErrorIs(t, b.Call(ctx, fail), errRemote)
	}
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Call(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, types.KindCircuitOpen, types.Classify(err))
	assert.Equal(t, 0, calls, "open breaker must not invoke fn")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())

	*clock = clock.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	t.Run("success threshold closes", func(t *testing.T) {
		require.NoError(t, b.Call(ctx, ok))
		assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough")
		require.NoError(t, b.Call(ctx, ok))
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}
	*clock = clock.Add(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, b.Call(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, b.State())

	// The full timeout applies again from the reopen.
	*clock = clock.Add(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	*clock = clock.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerWindowPrunesOldFailures(t *testing.T) {
	b, clock := newTestBreaker()
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)
	*clock = clock.Add(61 * time.Second)

	// The first two failures fell out of the window; two more must not
	// trip the threshold of three.
	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Call(ctx, fail)
	assert.Equal(t, StateOpen, b.State())
}
