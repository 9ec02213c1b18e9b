// Package tools provides the tool registry and the builtin tool
// handlers. Steps name a (tool, action) pair; the registry resolves it
// to a handler that produces output and, for mutating actions, the data
// needed to undo the operation later.
package tools

import (
	"context"

	"zenus/internal/ledger"
)

// Class groups tools by their execution discipline.
type Class string

const (
	// ClassFile covers local filesystem operations.
	ClassFile Class = "file"

	// ClassShell covers raw command execution.
	ClassShell Class = "shell"

	// ClassNetwork covers HTTP downloads and requests.
	ClassNetwork Class = "network"

	// ClassPackage covers system package managers. Serialized and
	// exempt from wall-clock timeouts.
	ClassPackage Class = "package"

	// ClassService covers service manager operations.
	ClassService Class = "service"

	// ClassVCS covers version control state. Serialized.
	ClassVCS Class = "vcs"

	// ClassContainer covers container runtime operations.
	ClassContainer Class = "container"
)

// Serializing reports whether steps of this class must never run
// concurrently with each other, regardless of arguments.
func (c Class) Serializing() bool {
	return c == ClassPackage || c == ClassVCS
}

// NoTimeout reports whether the class is exempt from the default
// wall-clock step timeout. Package installs legitimately run for
// minutes.
func (c Class) NoTimeout() bool {
	return c == ClassPackage || c == ClassContainer
}

// Result is what a handler returns. Strategy describes how to undo the
// operation; a mutating handler that could not capture rollback data
// returns Reversible=false with the none strategy.
type Result struct {
	Stdout     string
	Stderr     string
	Reversible bool
	Strategy   ledger.Strategy
}

// HandlerFunc executes one action.
type HandlerFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Action is one operation a tool offers.
type Action struct {
	Name string

	// Required lists argument keys that must be present.
	Required []string

	// Mutating actions are recorded in the ledger and invalidate
	// intent cache entries touching their arguments.
	Mutating bool

	Handler HandlerFunc
}

// Tool is a named group of actions sharing a class.
type Tool struct {
	Name    string
	Class   Class
	Actions map[string]*Action
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if len(t.Actions) == 0 {
		return ErrToolNoActions
	}
	for name, a := range t.Actions {
		if a.Handler == nil {
			return ErrActionHandlerNil
		}
		if a.Name == "" {
			a.Name = name
		}
	}
	return nil
}

// stringArg extracts a string argument, "" when absent or not a string.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
