package tools

import "errors"

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrActionNotFound is returned when a tool has no such action.
	ErrActionNotFound = errors.New("action not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolNoActions is returned when a tool defines no actions.
	ErrToolNoActions = errors.New("tool must define at least one action")

	// ErrActionHandlerNil is returned when an action has no handler.
	ErrActionHandlerNil = errors.New("action handler cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMissingRequiredArg is returned when a required argument is
	// missing or empty.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrNoPackageManager is returned when no supported package manager
	// is on PATH.
	ErrNoPackageManager = errors.New("no supported package manager found")
)
