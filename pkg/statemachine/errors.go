package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition     = errors.New("statemachine: invalid transition")
	ErrDuplicateTransition   = errors.New("statemachine: duplicate transition")
	ErrNoTransitionAvailable = errors.New("statemachine: no transition available")
	ErrTerminalState         = errors.New("statemachine: state is terminal")
)

// TransitionError reports a rejected Fire call.
type TransitionError struct {
	From  State
	Event Event
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: from %q on %q", e.Err, e.From, e.Event)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
