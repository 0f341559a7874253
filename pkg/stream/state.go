package stream

// State is the lifecycle position of a [Session].
//
//	Idle ──Open──▶ Connecting ──dial ok──▶ Streaming ──Close──▶ Closing
//	                    │                      │                   │
//	                    └── dial error ──▶ Failed ◀── exception / abnormal close
//	                                           Closed ◀── normal close (1000)
//
// Closed and Failed are terminal; a session never leaves them.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Closed or Failed.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}
