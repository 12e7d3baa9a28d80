package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no edge exists for a trigger in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when every edge for a trigger is guarded and no guard passes
	ErrGuardFailed = errors.New("guard condition failed")
)
