package tools

import (
	"context"
	"strings"

	"zenus/internal/ledger"
)

// newContainerOps builds the docker tool. Long-running pulls make the
// class timeout-exempt.
func newContainerOps() *Tool {
	return &Tool{
		Name:  "ContainerOps",
		Class: ClassContainer,
		Actions: map[string]*Action{
			"run": {
				Required: []string{"image"},
				Mutating: true,
				Handler:  containerRun,
			},
			"stop_and_remove": {
				Required: []string{"id"},
				Mutating: true,
				Handler:  containerStopRemove,
			},
		},
	}
}

func containerRun(ctx context.Context, args map[string]any) (*Result, error) {
	image := stringArg(args, "image")
	cmdArgs := []string{"run", "-d"}
	if name := stringArg(args, "name"); name != "" {
		cmdArgs = append(cmdArgs, "--name", name)
	}
	if ports := stringArg(args, "ports"); ports != "" {
		cmdArgs = append(cmdArgs, "-p", ports)
	}
	cmdArgs = append(cmdArgs, image)

	stdout, stderr, err := runCommand(ctx, "docker", cmdArgs...)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	id := strings.TrimSpace(stdout)
	return &Result{
		Stdout:     id,
		Stderr:     stderr,
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyContainerStopRemove, ID: id},
	}, nil
}

func containerStopRemove(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	stdout, stderr, err := runCommand(ctx, "docker", "rm", "-f", id)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, nil
}
