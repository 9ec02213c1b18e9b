package tools

import (
	"context"
	"os/exec"

	"zenus/internal/ledger"
	"zenus/internal/types"
)

// packageManager describes one supported system package manager.
type packageManager struct {
	bin       string
	install   []string
	uninstall []string
}

// Checked in order; the first binary found on PATH wins.
var packageManagers = []packageManager{
	{bin: "apt-get", install: []string{"install", "-y"}, uninstall: []string{"remove", "-y"}},
	{bin: "dnf", install: []string{"install", "-y"}, uninstall: []string{"remove", "-y"}},
	{bin: "apk", install: []string{"add"}, uninstall: []string{"del"}},
	{bin: "brew", install: []string{"install"}, uninstall: []string{"uninstall"}},
}

func detectPackageManager() (*packageManager, error) {
	for i := range packageManagers {
		if _, err := exec.LookPath(packageManagers[i].bin); err == nil {
			return &packageManagers[i], nil
		}
	}
	return nil, types.WithKind(types.KindFatal, ErrNoPackageManager)
}

// newPackageOps builds the package manager tool. The class is
// serializing (two installs never run concurrently) and exempt from
// wall-clock timeouts.
func newPackageOps() *Tool {
	return &Tool{
		Name:  "PackageOps",
		Class: ClassPackage,
		Actions: map[string]*Action{
			"install": {
				Required: []string{"name"},
				Mutating: true,
				Handler:  packageInstall,
			},
			"uninstall": {
				Required: []string{"name"},
				Mutating: true,
				Handler:  packageUninstall,
			},
		},
	}
}

func packageInstall(ctx context.Context, args map[string]any) (*Result, error) {
	name := stringArg(args, "name")
	pm, err := detectPackageManager()
	if err != nil {
		return nil, err
	}
	stdout, stderr, err := runCommand(ctx, pm.bin, append(pm.install, name)...)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{
		Stdout:     stdout,
		Stderr:     stderr,
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyUninstall, Pkg: name},
	}, nil
}

func packageUninstall(ctx context.Context, args map[string]any) (*Result, error) {
	name := stringArg(args, "name")
	pm, err := detectPackageManager()
	if err != nil {
		return nil, err
	}
	stdout, stderr, err := runCommand(ctx, pm.bin, append(pm.uninstall, name)...)
	if err != nil {
		return &Result{Stdout: stdout, Stderr: stderr, Strategy: ledger.None()}, err
	}
	return &Result{
		Stdout:     stdout,
		Stderr:     stderr,
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyReinstall, Pkg: name},
	}, nil
}
