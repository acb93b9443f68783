package ledger

// State is a payment transaction lifecycle state.
type State string

const (
	// StateInitiated is the state immediately after the local row is created,
	// before the gateway has acknowledged anything.
	StateInitiated State = "INITIATED"
	// StatePending means the gateway accepted the request and redirected the
	// payer.
	StatePending State = "PENDING"
	// StateSuccess is a terminal captured payment (or a confirmed COD
	// commitment).
	StateSuccess State = "SUCCESS"
	// StateFailed is a terminal definitive failure.
	StateFailed State = "FAILED"
	// StateCancelled is a terminal payer-side cancellation.
	StateCancelled State = "CANCELLED"
	// StateRefunded is terminal and reachable only from StateSuccess.
	StateRefunded State = "REFUNDED"
)

// Terminal reports whether the state ends the payment attempt.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled, StateRefunded:
		return true
	default:
		return false
	}
}

// ParseState maps a wire value onto the state set.
func ParseState(value string) (State, bool) {
	switch State(value) {
	case StateInitiated, StatePending, StateSuccess, StateFailed, StateCancelled, StateRefunded:
		return State(value), true
	default:
		return "", false
	}
}

func rank(s State) int {
	switch s {
	case StateInitiated:
		return 0
	case StatePending:
		return 1
	case StateSuccess, StateFailed, StateCancelled:
		return 2
	case StateRefunded:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether the state machine permits moving from one
// state to another. Progression is monotonic: no backward edges, no hopping
// between terminal states, and REFUNDED is reachable only from SUCCESS.
func CanTransition(from, to State) bool {
	if rank(from) < 0 || rank(to) < 0 {
		return false
	}
	if to == StateRefunded {
		return from == StateSuccess
	}
	return rank(to) > rank(from)
}
