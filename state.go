package genio

// State is a Stream's position in its four-state lifecycle. Transitions are
// strictly monotonic through the close path; a stream may only reopen from
// StateClosed.
type State int32

const (
	// StateClosed means the descriptor is not held; fd is -1.
	StateClosed State = iota
	// StateInOpen means an asynchronous connect/open is outstanding.
	StateInOpen
	// StateOpen means the descriptor is live and readiness-driven callbacks
	// may fire.
	StateOpen
	// StateInClose means Close has been called and teardown is in flight.
	StateInClose
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateInOpen:
		return "in_open"
	case StateOpen:
		return "open"
	case StateInClose:
		return "in_close"
	default:
		return "unknown"
	}
}
