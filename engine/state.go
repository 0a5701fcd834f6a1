package engine

import (
	"fmt"

	lesson "github.com/linguapulse/lesson"
)

// State is the lifecycle state of one learner's lesson of one variant.
type State string

const (
	StateNoSession  State = "no_session"
	StateActive     State = "active"
	StateConcluding State = "concluding"
	StateClosed     State = "closed"
)

// Event drives a State transition.
type Event string

const (
	EventStart            Event = "start"
	EventTurn             Event = "turn"
	EventThresholdReached Event = "threshold_reached"
	EventIdleTimeout      Event = "idle_timeout"
	EventTeardown         Event = "teardown"
)

var transitions = map[State]map[Event]State{
	StateNoSession: {
		EventStart: StateActive,
	},
	StateActive: {
		EventTurn:             StateActive,
		EventThresholdReached: StateConcluding,
		EventIdleTimeout:      StateNoSession,
	},
	StateConcluding: {
		EventTeardown: StateClosed,
	},
}

// Next returns the state reached from s on e.
func (s State) Next(e Event) (State, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", lesson.ErrIllegalTransition, s, e)
}
