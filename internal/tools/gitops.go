package tools

import (
	"context"
	"fmt"
	"strings"

	"zenus/internal/ledger"
)

// newGitOps builds the version control tool. The class serializes:
// concurrent index mutations corrupt state.
func newGitOps() *Tool {
	return &Tool{
		Name:  "GitOps",
		Class: ClassVCS,
		Actions: map[string]*Action{
			"commit": {
				Required: []string{"message"},
				Mutating: true,
				Handler:  gitCommit,
			},
			"reset": {
				Required: []string{"hash"},
				Mutating: true,
				Handler:  gitReset,
			},
			"status": {
				Handler: gitStatus,
			},
		},
	}
}

// gitCommit stages everything and commits. The pre-commit HEAD is the
// rollback point.
func gitCommit(ctx context.Context, args map[string]any) (*Result, error) {
	message := stringArg(args, "message")

	head, _, err := runCommand(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	head = strings.TrimSpace(head)

	if _, stderr, err := runCommand(ctx, "git", "add", "-A"); err != nil {
		return &Result{Stderr: stderr, Strategy: ledger.None()}, err
	}
	stdout, stderr, err := runCommand(ctx, "git", "commit", "-m", message)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{
		Stdout:     stdout,
		Stderr:     stderr,
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyGitReset, Hash: head},
	}, nil
}

func gitReset(ctx context.Context, args map[string]any) (*Result, error) {
	hash := stringArg(args, "hash")
	stdout, stderr, err := runCommand(ctx, "git", "reset", "--hard", hash)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	if stdout == "" {
		stdout = fmt.Sprintf("reset to %s", hash)
	}
	// Hard resets throw away state; they are deliberate and final.
	return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, nil
}

func gitStatus(ctx context.Context, _ map[string]any) (*Result, error) {
	stdout, stderr, err := runCommand(ctx, "git", "status", "--porcelain")
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, nil
}
