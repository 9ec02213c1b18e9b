package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"zenus/internal/ledger"
	"zenus/internal/resilience"
	"zenus/internal/session"
	"zenus/internal/types"
)

// exitError carries a process exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func codedError(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitFor maps an execution outcome to the exit code contract.
func exitFor(result *types.ExecutionResult, err error) error {
	if err != nil {
		return codedError(classifyExit(err), err)
	}
	if result == nil {
		return nil
	}
	switch result.Status {
	case types.StatusComplete:
		return nil
	case types.StatusAborted:
		return codedError(exitCancelled, errors.New(result.Summary))
	default:
		return codedError(exitFailure, errors.New(result.Summary))
	}
}

func rollbackExit(report *ledger.Report, err error) error {
	if err != nil {
		if errors.Is(err, session.ErrRollbackNotFeasible) ||
			errors.Is(err, ledger.ErrNothingToRollBack) {
			return codedError(exitNoRollback, err)
		}
		return codedError(classifyExit(err), err)
	}
	if report != nil && !report.DryRun && report.Inverted == 0 && report.Failed+report.Skipped > 0 {
		return codedError(exitNoRollback, errors.New("no records could be rolled back"))
	}
	return nil
}

func classifyExit(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBudgetExhausted):
		return exitExhausted
	}
	switch types.Classify(err) {
	case types.KindSchema, types.KindSyntax:
		return exitSchema
	case types.KindCircuitOpen, types.KindBudgetExhausted:
		return exitExhausted
	default:
		return exitFailure
	}
}

// terminalInteractor asks yes/no questions on the controlling terminal.
type terminalInteractor struct{}

func (terminalInteractor) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)

	answer := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
}
