// Package dialog runs one role's dialog against a protocol channel as a
// message-level state machine.
package dialog

// State is a dialog state. Exactly one is active at a time and every dialog
// ends in one of the terminal states.
type State int

const (
	StateIdle State = iota
	StateSending
	StateWaiting
	StateTimer
	StateMatched
	StateNonMatching
	StateRejected
	StateTimedOut
	StateError
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateSending:     "sending",
	StateWaiting:     "waiting",
	StateTimer:       "timer",
	StateMatched:     "matched",
	StateNonMatching: "non_matching",
	StateRejected:    "rejected",
	StateTimedOut:    "timed_out",
	StateError:       "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends the dialog.
func (s State) Terminal() bool {
	return s >= StateMatched
}

// Precedence orders terminal states when a session combines several dialog
// outcomes: the session takes the state with the highest precedence.
func (s State) Precedence() int {
	switch s {
	case StateError:
		return 5
	case StateRejected:
		return 4
	case StateTimedOut:
		return 3
	case StateNonMatching:
		return 2
	case StateMatched:
		return 1
	default:
		return 0
	}
}
