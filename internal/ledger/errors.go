package ledger

import "errors"

// Ledger errors.
var (
	// ErrNotReversible is returned when an inverse is requested for a
	// strategy that has none.
	ErrNotReversible = errors.New("operation not reversible")

	// ErrNoActiveTxn is returned when recording outside a transaction.
	ErrNoActiveTxn = errors.New("no active transaction")

	// ErrTxnActive is returned when beginning while one is in progress.
	ErrTxnActive = errors.New("transaction already active")

	// ErrBadTransition is returned on an illegal status transition.
	ErrBadTransition = errors.New("illegal transaction status transition")

	// ErrNothingToRollBack is returned when no reversible records match.
	ErrNothingToRollBack = errors.New("nothing to roll back")
)
