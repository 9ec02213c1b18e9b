package plan

import "errors"

// Planner errors.
var (
	// ErrPlanCycle is returned when dependency analysis detects a cycle.
	ErrPlanCycle = errors.New("dependency cycle in plan")

	// ErrDeclined is returned when the user declines a confirmation
	// prompt.
	ErrDeclined = errors.New("execution declined by user")
)
