package engine

// State is the request lifecycle for the active session's turn. There is one
// explicit state variable and one transition function: "is a request in
// flight" is never derived from scattered flags.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingAsyncTask
	StateCancelled
	StateErrored
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingAsyncTask:
		return "awaiting-task"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// InFlight reports whether a turn is currently being driven.
func (s State) InFlight() bool {
	return s == StateSubmitting || s == StateAwaitingAsyncTask
}

var legalTransitions = map[State][]State{
	StateIdle:              {StateSubmitting},
	StateSubmitting:        {StateAwaitingAsyncTask, StateCancelled, StateErrored, StateIdle},
	StateAwaitingAsyncTask: {StateCancelled, StateErrored, StateIdle},
	StateCancelled:         {StateIdle},
	StateErrored:           {StateIdle},
}

func validTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
