// Package types defines the intent IR data model shared by every part of
// the execution core: plans, steps, observations, reflections, and the
// error taxonomy used to classify failures.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RiskLevel classifies how dangerous a step is.
type RiskLevel int

const (
	// RiskReadOnly covers pure reads with no side effects.
	RiskReadOnly RiskLevel = 0
	// RiskModify covers reversible mutations (file writes, moves).
	RiskModify RiskLevel = 1
	// RiskSignificant covers changes that are hard to undo cleanly.
	RiskSignificant RiskLevel = 2
	// RiskDestructive covers irreversible operations (deletes without backup).
	RiskDestructive RiskLevel = 3
)

// Step is one atomic invocation of a tool action. Steps are immutable
// once the IR they belong to has been validated.
type Step struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Risk   RiskLevel      `json:"risk"`
}

// IntentIR is a validated goal plan produced by the Translator.
type IntentIR struct {
	Goal                 string `json:"goal"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Steps                []Step `json:"steps"`
}

// Validate enforces the IR wire contract: non-empty tool and action,
// risk in 0..3. Args keys are strings by construction of the map type.
func (ir *IntentIR) Validate() error {
	for i, s := range ir.Steps {
		if s.Tool == "" {
			return fmt.Errorf("%w: step %d has empty tool", ErrInvalidIR, i)
		}
		if s.Action == "" {
			return fmt.Errorf("%w: step %d has empty action", ErrInvalidIR, i)
		}
		if s.Risk < RiskReadOnly || s.Risk > RiskDestructive {
			return fmt.Errorf("%w: step %d has risk %d (want 0..3)", ErrInvalidIR, i, s.Risk)
		}
	}
	return nil
}

// ParseIR decodes and validates an IR from its JSON wire form.
func ParseIR(data []byte) (*IntentIR, error) {
	var ir IntentIR
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIR, err)
	}
	if err := ir.Validate(); err != nil {
		return nil, err
	}
	return &ir, nil
}

// MaxRisk returns the highest risk level among the plan's steps.
func (ir *IntentIR) MaxRisk() RiskLevel {
	max := RiskReadOnly
	for _, s := range ir.Steps {
		if s.Risk > max {
			max = s.Risk
		}
	}
	return max
}

// Outcome is the terminal state of an attempted step.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// StdoutTailLimit bounds how much stdout an Observation retains.
const StdoutTailLimit = 300

// Observation is the post-execution record paired to a Step. Every
// attempted step produces exactly one.
type Observation struct {
	StepIndex  int       `json:"step_index"`
	Tool       string    `json:"tool"`
	Action     string    `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	Stdout     string    `json:"truncated_stdout"` // last StdoutTailLimit chars
	Stderr     string    `json:"stderr"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	ArgsDigest string    `json:"args_digest"`
}

// Summary renders the observation in the compact form used when feeding
// trails back to the Translator: Tool.action(digest) -> stdout tail.
func (o Observation) Summary() string {
	out := o.Stdout
	if o.Outcome == OutcomeFailed {
		out = string(o.ErrorKind) + ": " + o.Stderr
	}
	return fmt.Sprintf("%s.%s(%s) -> %s", o.Tool, o.Action, o.ArgsDigest, strings.TrimSpace(out))
}

// TailString trims s to its last StdoutTailLimit characters.
func TailString(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= StdoutTailLimit {
		return s
	}
	return s[len(s)-StdoutTailLimit:]
}

// DigestArgs produces a short stable fingerprint of a step's arguments.
// Keys are sorted so the digest is independent of map iteration order.
func DigestArgs(args map[string]any) string {
	if len(args) == 0 {
		return "0"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		v, _ := json.Marshal(args[k])
		h.Write(v)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Reflection is the structured result of the Translator's reflection
// mode: did the last round of execution achieve the goal?
type Reflection struct {
	Achieved   bool     `json:"achieved"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	NextSteps  []string `json:"next_steps"`
}

// ParseReflection decodes a reflection from its JSON wire form and clamps
// confidence into [0,1].
func ParseReflection(data []byte) (*Reflection, error) {
	var r Reflection
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReflection, err)
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return &r, nil
}

// ExecStatus is the terminal status of a top-level execution.
type ExecStatus string

const (
	StatusComplete             ExecStatus = "complete"
	StatusFailed               ExecStatus = "failed"
	StatusAborted              ExecStatus = "aborted"
	StatusMaxIterations        ExecStatus = "incomplete_max_reached"
	StatusTranslationFailure   ExecStatus = "incomplete_translation_failure"
)

// ExecutionResult is what a session returns for one top-level input.
type ExecutionResult struct {
	TxnID        string        `json:"txn_id"`
	Goal         string        `json:"goal"`
	Status       ExecStatus    `json:"status"`
	Observations []Observation `json:"observations"`
	Iterations   int           `json:"iterations"`
	Summary      string        `json:"summary"`
	Suggestions  []string      `json:"suggestions,omitempty"`
}

// Failed reports whether any observation failed.
func (r *ExecutionResult) Failed() bool {
	for _, o := range r.Observations {
		if o.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}
