package types

import "errors"

// Data model errors.
var (
	// ErrInvalidIR is returned when an IR fails wire validation.
	ErrInvalidIR = errors.New("invalid intent IR")

	// ErrInvalidReflection is returned when a reflection payload is malformed.
	ErrInvalidReflection = errors.New("invalid reflection")
)
