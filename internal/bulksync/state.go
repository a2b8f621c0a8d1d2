package bulksync

import (
	"fmt"

	"github.com/nortesoft/catasync/internal/models"
)

// State is a session's position in its lifecycle. The wire values are
// the Spanish state names the platform has always exposed.
type State string

const (
	StateStarted    State = models.SessionStateStarted
	StateProcessing State = models.SessionStateProcessing
	StateCompleted  State = models.SessionStateCompleted
	StateError      State = models.SessionStateError
	StateCancelled  State = models.SessionStateCancelled
)

// transitions is the closed transition table. Terminal states have no
// outgoing edges; a started session may jump straight to any terminal
// state (a run that never received batches can still be closed).
var transitions = map[State][]State{
	StateStarted:    {StateProcessing, StateCompleted, StateError, StateCancelled},
	StateProcessing: {StateCompleted, StateError, StateCancelled},
	StateCompleted:  {},
	StateError:      {},
	StateCancelled:  {},
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether a session in this state may accept batches.
func (s State) Active() bool {
	return s == StateStarted || s == StateProcessing
}

// Transition validates a state change against the transition table and
// returns the new state. The receiver is never mutated; an illegal
// transition returns ErrInvalidTransition.
func (s State) Transition(to State) (State, error) {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// ParseTerminalState validates a caller-supplied final state name.
// Only the three terminal names are accepted.
func ParseTerminalState(name string) (State, error) {
	switch State(name) {
	case StateCompleted, StateError, StateCancelled:
		return State(name), nil
	}
	return "", fmt.Errorf("%w: %q is not a terminal state", ErrInvalidTransition, name)
}
