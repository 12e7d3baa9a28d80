package workflow

import "context"

// StateMachine tracks the current state of one request and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger has at least one edge from the current state
	CanFire(trigger Trigger) bool

	// Target resolves the state a trigger would lead to without changing the machine
	Target(ctx context.Context, trigger Trigger) (State, error)

	// Fire executes the trigger, moving to the target state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state
	PermittedTriggers() []Trigger
}
