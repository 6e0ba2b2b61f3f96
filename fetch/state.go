package fetch

// State is the lifecycle stage of a fetch.
type State int32

const (
	StateCreated State = iota
	StateAuthenticating
	StateHeadersSent
	StateStreaming
	StatePersisting
	StateComplete
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateHeadersSent:
		return "HEADERS_SENT"
	case StateStreaming:
		return "STREAMING"
	case StatePersisting:
		return "PERSISTING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateComplete
}
