package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/ledger"
	"zenus/internal/resilience"
	"zenus/internal/types"
)

func code(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	return ee.code
}

func TestExitFor(t *testing.T) {
	t.Run("complete exits zero", func(t *testing.T) {
		assert.NoError(t, exitFor(&types.ExecutionResult{Status: types.StatusComplete}, nil))
	})

	t.Run("aborted", func(t *testing.T) {
		err := exitFor(&types.ExecutionResult{Status: types.StatusAborted, Summary: "declined"}, nil)
		assert.Equal(t, exitCancelled, code(t, err))
	})

	t.Run("failed", func(t *testing.T) {
		err := exitFor(&types.ExecutionResult{Status: types.StatusFailed, Summary: "boom"}, nil)
		assert.Equal(t, exitFailure, code(t, err))
	})

	t.Run("max iterations count as failure", func(t *testing.T) {
		err := exitFor(&types.ExecutionResult{Status: types.StatusMaxIterations}, nil)
		assert.Equal(t, exitFailure, code(t, err))
	})
}

func TestClassifyExit(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", context.Canceled, exitCancelled},
		{"circuit open", resilience.ErrCircuitOpen, exitExhausted},
		{"budget exhausted", resilience.ErrBudgetExhausted, exitExhausted},
		{"schema", types.WithKind(types.KindSchema, errors.New("bad ir")), exitSchema},
		{"syntax", types.WithKind(types.KindSyntax, errors.New("bad input")), exitSchema},
		{"plain failure", errors.New("something broke"), exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyExit(tc.err))
		})
	}
}

func TestRollbackExit(t *testing.T) {
	t.Run("nothing to roll back", func(t *testing.T) {
		err := rollbackExit(nil, ledger.ErrNothingToRollBack)
		assert.Equal(t, exitNoRollback, code(t, err))
	})

	t.Run("all skipped", func(t *testing.T) {
		err := rollbackExit(&ledger.Report{Planned: 2, Skipped: 2}, nil)
		assert.Equal(t, exitNoRollback, code(t, err))
	})

	t.Run("successful rollback", func(t *testing.T) {
		assert.NoError(t, rollbackExit(&ledger.Report{Planned: 2, Inverted: 2}, nil))
	})

	t.Run("dry run is always clean", func(t *testing.T) {
		assert.NoError(t, rollbackExit(&ledger.Report{Planned: 3, DryRun: true}, nil))
	})
}
