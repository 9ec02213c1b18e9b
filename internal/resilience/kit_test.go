package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/config"
	"zenus/internal/types"
)

func TestKit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.Retry.MaxAttempts = 1
	k := NewKit(cfg)
	ctx := context.Background()

	t.Run("unused breaker reads closed", func(t *testing.T) {
		assert.Equal(t, StateClosed, k.BreakerState("llm:gemini"))
		assert.Empty(t, k.Services())
	})

	t.Run("per-service isolation", func(t *testing.T) {
		boom := func(context.Context) error {
			return types.WithKind(types.KindPermission, errors.New("denied"))
		}
		for i := 0; i < 2; i++ {
			require.Error(t, k.Call(ctx, "llm:gemini", boom))
		}
		assert.Equal(t, StateOpen, k.BreakerState("llm:gemini"))
		assert.Equal(t, StateClosed, k.BreakerState("llm:openai"))
		assert.Equal(t, []string{"llm:gemini"}, k.Services())
	})

	t.Run("open breaker rejects without calling", func(t *testing.T) {
		calls := 0
		err := k.Call(ctx, "llm:gemini", func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 0, calls)
	})

	t.Run("success passes through", func(t *testing.T) {
		require.NoError(t, k.Call(ctx, "llm:openai", func(context.Context) error { return nil }))
		assert.Equal(t, StateClosed, k.BreakerState("llm:openai"))
	})
}
