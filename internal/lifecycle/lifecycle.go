// Package lifecycle implements the rule state machine (§4.7):
// Draft -> Compiled -> Active -> (Superseded | Retired).
package lifecycle

import "fmt"

// State is a rule's lifecycle stage.
type State string

const (
	Draft      State = "draft"
	Compiled   State = "compiled"
	Active     State = "active"
	Superseded State = "superseded"
	Retired    State = "retired"
)

// transitions enumerates every legal State -> State edge (§4.7).
var transitions = map[State]map[State]bool{
	Draft:      {Compiled: true},
	Compiled:   {Active: true},
	Active:     {Superseded: true, Retired: true},
	Superseded: {},
	Retired:    {},
}

// Transition validates moving from a rule's current state to next, per the
// transition table in §4.7. It returns an error for any edge not listed
// there (e.g. skipping Compiled, or leaving a terminal state).
func Transition(current, next State) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("lifecycle: unknown state %q", current)
	}
	if !allowed[next] {
		return fmt.Errorf("lifecycle: illegal transition %s -> %s", current, next)
	}
	return nil
}

// IsTerminal reports whether a rule in state s can never transition again.
func IsTerminal(s State) bool {
	return s == Superseded || s == Retired
}
