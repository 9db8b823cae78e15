package agent

import (
	"github.com/cockroachdb/errors"
)

// ErrInvalidTransition is returned for a state change the loop does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

// State of a session
type State string

// States
const (
	StateThinking  State = "thinking"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateFinished  State = "finished"
	StateError     State = "error"
)

var transitions = map[State][]State{
	StateThinking:  {StateActing, StateFinished, StateThinking, StateError},
	StateActing:    {StateObserving, StateError},
	StateObserving: {StateThinking, StateError},
}

// IsTerminal returns true for Finished and Error
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateError
}

// CanTransition returns true if the loop may move from s to the next state
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Outcome of a session
type Outcome string

// Outcomes
const (
	OutcomeFinished          Outcome = "finished"
	OutcomeStepLimitExceeded Outcome = "step_limit_exceeded"
	OutcomeError             Outcome = "error"
)

// ErrStepLimitExceeded is the error of a session that used all steps without a final answer
var ErrStepLimitExceeded = errors.New("step limit exceeded")
