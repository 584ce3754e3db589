package runtime

import "sync/atomic"

// runState mirrors the teacher event loop's LoopState: a small enum CAS'd
// atomically so Run/Close/poll can coordinate without a mutex.
type runState uint32

const (
	stateAwake runState = iota
	stateRunning
	stateSleeping
	stateTerminating
	stateTerminated
)

func (s runState) String() string {
	switch s {
	case stateAwake:
		return "awake"
	case stateRunning:
		return "running"
	case stateSleeping:
		return "sleeping"
	case stateTerminating:
		return "terminating"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type fastState struct {
	v atomic.Uint32
}

func (f *fastState) load() runState { return runState(f.v.Load()) }

func (f *fastState) store(s runState) { f.v.Store(uint32(s)) }

func (f *fastState) tryTransition(from, to runState) bool {
	return f.v.CompareAndSwap(uint32(from), uint32(to))
}
