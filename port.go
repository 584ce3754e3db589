package genio

import "time"

// FDHandlers are the three readiness callbacks a Runtime invokes for a
// registered descriptor. Except is the TCP-urgent/OOB-data signal.
type FDHandlers struct {
	Read   func(fd int)
	Write  func(fd int)
	Except func(fd int)
}

// Timer is a single-shot, re-armable alarm handed out by a Runtime.
type Timer interface {
	// Stop cancels a pending firing. Safe to call after the timer already
	// fired.
	Stop()
}

// Runtime is the OS-services port a Stream is built on: readiness
// registration, a deferred-op runner (the trampoline), and one-shot timers.
// See package runtime for the production implementation (an epoll/kqueue
// reactor), and internal/fakeruntime for the deterministic test double.
type Runtime interface {
	// SetFDHandlers registers fd with the given callbacks; read/write
	// readiness is initially disabled until SetReadHandler/SetWriteHandler
	// is called.
	SetFDHandlers(fd int, h FDHandlers) error
	// ClearFDHandlers asynchronously unregisters fd; cleared is invoked,
	// off the calling stack, once no callback for fd is or will be in
	// flight. Used on the close path.
	ClearFDHandlers(fd int, cleared func()) error
	// ClearFDHandlersNoRpt synchronously unregisters fd with no completion
	// notification. Used only mid-connect-retry, when the descriptor is
	// about to be closed and replaced in the same call stack.
	ClearFDHandlersNoRpt(fd int) error
	// SetReadHandler/SetWriteHandler/SetExceptHandler toggle readiness
	// watches for an already-registered fd.
	SetReadHandler(fd int, enable bool)
	SetWriteHandler(fd int, enable bool)
	SetExceptHandler(fd int, enable bool)
	// Submit schedules fn to run on the runtime's own goroutine, outside the
	// caller's stack and without any lock the caller may hold. This is the
	// deferred-op trampoline spec-required for re-entrant notification
	// changes and for close completions queued behind one.
	Submit(fn func()) error
	// StartTimer arms a one-shot timer; fn runs via Submit semantics.
	StartTimer(d time.Duration, fn func()) Timer
}

// ClosePhase distinguishes the two points at which a transport's optional
// CheckClose hook may be polled.
type ClosePhase int

const (
	// CloseStateStart is observed once, synchronously, when Close begins.
	CloseStateStart ClosePhase = iota
	// CloseStateDone is polled (possibly repeatedly, on a timer) once
	// readiness handlers have been cleared.
	CloseStateDone
)
