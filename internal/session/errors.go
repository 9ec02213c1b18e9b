package session

import "errors"

// Session errors.
var (
	// ErrNoTranslator is returned when an operation needs a translator
	// and none was configured.
	ErrNoTranslator = errors.New("no translator configured")

	// ErrClosed is returned on use after Close.
	ErrClosed = errors.New("session is closed")

	// ErrRollbackNotFeasible is returned when nothing can be rolled
	// back.
	ErrRollbackNotFeasible = errors.New("rollback not feasible")
)
