package mailsession

// State tracks where a session is in its lifecycle. Each Session owns its
// state exclusively; a mailbox may go through several sessions across
// reconnects within one run.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateSelected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
