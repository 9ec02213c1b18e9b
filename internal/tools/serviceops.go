package tools

import (
	"context"
	"fmt"

	"zenus/internal/ledger"
)

// newServiceOps builds the systemd service tool.
func newServiceOps() *Tool {
	return &Tool{
		Name:  "ServiceOps",
		Class: ClassService,
		Actions: map[string]*Action{
			"start": {
				Required: []string{"name"},
				Mutating: true,
				Handler:  serviceAction("start", ledger.StrategyServiceStop),
			},
			"stop": {
				Required: []string{"name"},
				Mutating: true,
				Handler:  serviceAction("stop", ledger.StrategyServiceStart),
			},
			"restart": {
				Required: []string{"name"},
				Mutating: true,
				Handler:  serviceAction("restart", ledger.StrategyNone),
			},
			"status": {
				Required: []string{"name"},
				Handler:  serviceAction("status", ledger.StrategyNone),
			},
		},
	}
}

// serviceAction builds a handler running `systemctl <verb> <name>`,
// recording the inverse verb as rollback strategy where one exists.
func serviceAction(verb string, inverse ledger.StrategyKind) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (*Result, error) {
		name := stringArg(args, "name")
		stdout, stderr, err := runCommand(ctx, "systemctl", verb, name)
		if err != nil {
			return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
		}
		res := &Result{
			Stdout:   stdout,
			Stderr:   stderr,
			Strategy: ledger.None(),
		}
		if inverse != ledger.StrategyNone {
			res.Reversible = true
			res.Strategy = ledger.Strategy{Kind: inverse, Name: name}
		}
		if res.Stdout == "" {
			res.Stdout = fmt.Sprintf("systemctl %s %s ok", verb, name)
		}
		return res, nil
	}
}
