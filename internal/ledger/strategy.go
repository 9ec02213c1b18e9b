package ledger

import (
	"encoding/json"
	"fmt"

	"zenus/internal/types"
)

// StrategyKind tags a rollback strategy variant.
type StrategyKind string

const (
	StrategyNone                 StrategyKind = "none"
	StrategyDelete               StrategyKind = "delete"
	StrategyRestore              StrategyKind = "restore"
	StrategyMoveBack             StrategyKind = "move_back"
	StrategyUninstall            StrategyKind = "uninstall"
	StrategyReinstall            StrategyKind = "reinstall"
	StrategyGitReset             StrategyKind = "git_reset"
	StrategyServiceStop          StrategyKind = "service_stop"
	StrategyServiceStart         StrategyKind = "service_start"
	StrategyContainerStopRemove  StrategyKind = "container_stop_and_remove"
)

// Strategy carries the minimum data needed to undo one operation. Only
// the fields relevant to the kind are set.
type Strategy struct {
	Kind       StrategyKind `json:"kind"`
	Path       string       `json:"path,omitempty"`
	BackupPath string       `json:"backup_path,omitempty"`
	From       string       `json:"from,omitempty"`
	To         string       `json:"to,omitempty"`
	Pkg        string       `json:"pkg,omitempty"`
	Hash       string       `json:"hash,omitempty"`
	Name       string       `json:"name,omitempty"`
	ID         string       `json:"id,omitempty"`
}

// None is the non-reversible strategy.
func None() Strategy { return Strategy{Kind: StrategyNone} }

// Reversible reports whether the strategy can produce an inverse step.
func (s Strategy) Reversible() bool { return s.Kind != StrategyNone && s.Kind != "" }

// Inverse builds the ordinary step that undoes the recorded operation.
// Inverse steps run through the normal step executor but are never
// recorded as new reversible actions.
func (s Strategy) Inverse() (types.Step, error) {
	switch s.Kind {
	case StrategyDelete:
		return types.Step{Tool: "FileOps", Action: "delete",
			Args: map[string]any{"path": s.Path}, Risk: types.RiskModify}, nil
	case StrategyRestore:
		return types.Step{Tool: "FileOps", Action: "copy",
			Args: map[string]any{"src": s.BackupPath, "dest": s.Path}, Risk: types.RiskModify}, nil
	case StrategyMoveBack:
		return types.Step{Tool: "FileOps", Action: "move",
			Args: map[string]any{"src": s.From, "dest": s.To}, Risk: types.RiskModify}, nil
	case StrategyUninstall:
		return types.Step{Tool: "PackageOps", Action: "uninstall",
			Args: map[string]any{"name": s.Pkg}, Risk: types.RiskSignificant}, nil
	case StrategyReinstall:
		return types.Step{Tool: "PackageOps", Action: "install",
			Args: map[string]any{"name": s.Pkg}, Risk: types.RiskSignificant}, nil
	case StrategyGitReset:
		return types.Step{Tool: "GitOps", Action: "reset",
			Args: map[string]any{"hash": s.Hash}, Risk: types.RiskSignificant}, nil
	case StrategyServiceStop:
		return types.Step{Tool: "ServiceOps", Action: "stop",
			Args: map[string]any{"name": s.Name}, Risk: types.RiskModify}, nil
	case StrategyServiceStart:
		return types.Step{Tool: "ServiceOps", Action: "start",
			Args: map[string]any{"name": s.Name}, Risk: types.RiskModify}, nil
	case StrategyContainerStopRemove:
		return types.Step{Tool: "ContainerOps", Action: "stop_and_remove",
			Args: map[string]any{"id": s.ID}, Risk: types.RiskSignificant}, nil
	default:
		return types.Step{}, fmt.Errorf("%w: %s", ErrNotReversible, s.Kind)
	}
}

func (s Strategy) marshal() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal strategy: %w", err)
	}
	return string(data), nil
}

func unmarshalStrategy(data string) (Strategy, error) {
	var s Strategy
	if data == "" {
		return None(), nil
	}
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return None(), fmt.Errorf("failed to unmarshal strategy: %w", err)
	}
	return s, nil
}
