package session

// State is the session lifecycle state. It enforces the
// single-in-flight-request discipline at the session level, independent of
// the dispatcher's own slot bookkeeping.
type State int

const (
	// StateConnecting: transport handshake in progress, no protocol messages
	// accepted yet.
	StateConnecting State = iota
	// StateReady: idle; a snapshot request or an action dispatch may start.
	StateReady
	// StateAwaitingSnapshot: one snapshot request outstanding.
	StateAwaitingSnapshot
	// StateAwaitingAction: one action dispatch outstanding.
	StateAwaitingAction
	// StateErrored: the session saw a protocol violation and must be reset
	// or torn down before further dispatch.
	StateErrored
	// StateClosed: terminal; transport disconnected, all state released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateAwaitingAction:
		return "awaiting_action"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateError maps a non-dispatchable state to the error surfaced to callers.
func stateError(s State) error {
	switch s {
	case StateConnecting:
		return ErrSessionNotReady
	case StateAwaitingSnapshot, StateAwaitingAction:
		return ErrSessionBusy
	case StateErrored:
		return ErrSessionErrored
	case StateClosed:
		return ErrSessionClosed
	default:
		return nil
	}
}
