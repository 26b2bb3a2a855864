// Package state defines the job lifecycle: every job starts pending and ends
// in exactly one terminal state.
package state

import "fmt"

type State string

const (
	Pending   State = "pending"
	Completed State = "completed"
	Failed    State = "failed"
)

func AllStates() []State {
	return []State{Pending, Completed, Failed}
}

// Parse converts a stored status back into a State.
func Parse(s string) (State, error) {
	switch st := State(s); st {
	case Pending, Completed, Failed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

func IsTerminal(s State) bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether a job may move from one state to another.
// Only a pending job moves, and only into a terminal state.
func CanTransition(from, to State) bool {
	return from == Pending && IsTerminal(to)
}
