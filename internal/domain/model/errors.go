package model

import "fmt"

// StateTransitionError is returned when a transition absent from the
// transition table is attempted. Always fatal to the call.
type StateTransitionError struct {
	From Status
	To   Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Code returns the machine-readable error code
func (e *StateTransitionError) Code() string {
	return "STATE_TRANSITION_ERROR"
}

// StatusCode returns the HTTP-like status for API callers
func (e *StateTransitionError) StatusCode() int {
	return 400
}
