package tools

import (
	"context"

	"zenus/internal/ledger"
)

// newShellOps builds the raw command tool. Shell commands are opaque:
// the system cannot know how to undo them, so they are never
// reversible.
func newShellOps() *Tool {
	return &Tool{
		Name:  "ShellOps",
		Class: ClassShell,
		Actions: map[string]*Action{
			"run": {
				Required: []string{"command"},
				Mutating: true,
				Handler:  shellRun,
			},
		},
	}
}

func shellRun(ctx context.Context, args map[string]any) (*Result, error) {
	command := stringArg(args, "command")
	stdout, stderr, err := runCommand(ctx, "sh", "-c", command)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, nil
}
