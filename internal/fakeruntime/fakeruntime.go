// Package fakeruntime is an in-memory double for genio.Runtime, letting the
// fd lower layer's state machine be exercised deterministically without
// real sockets or a live poller. Grounded in the teacher's habit of
// exposing test-only injection points on Loop (loopTestHooks) rather than
// mocking the whole reactor.
package fakeruntime

import (
	"sync"
	"time"

	"github.com/joeycumines/genio"
)

type fdState struct {
	h                   genio.FDHandlers
	readWanted, writeWanted bool
}

// Runtime is a synchronous, single-threaded stand-in: Submit and StartTimer
// run their function immediately (timers with zero delay) rather than on a
// separate goroutine, which is what makes tests deterministic.
type Runtime struct {
	mu  sync.Mutex
	fds map[int]*fdState
}

var _ genio.Runtime = (*Runtime)(nil)

// New constructs an empty fake runtime.
func New() *Runtime {
	return &Runtime{fds: make(map[int]*fdState)}
}

func (r *Runtime) SetFDHandlers(fd int, h genio.FDHandlers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fds[fd] = &fdState{h: h}
	return nil
}

func (r *Runtime) ClearFDHandlers(fd int, cleared func()) error {
	r.mu.Lock()
	delete(r.fds, fd)
	r.mu.Unlock()
	return r.Submit(cleared)
}

func (r *Runtime) ClearFDHandlersNoRpt(fd int) error {
	r.mu.Lock()
	delete(r.fds, fd)
	r.mu.Unlock()
	return nil
}

func (r *Runtime) SetReadHandler(fd int, enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.fds[fd]; ok {
		s.readWanted = enable
	}
}

func (r *Runtime) SetWriteHandler(fd int, enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.fds[fd]; ok {
		s.writeWanted = enable
	}
}

func (r *Runtime) SetExceptHandler(fd int, enable bool) {}

// Submit runs fn synchronously. Real runtimes defer to another goroutine;
// tests that care about re-entrancy should call this from a fresh stack
// frame (e.g. via t.Cleanup or a goroutine of their own).
func (r *Runtime) Submit(fn func()) error {
	fn()
	return nil
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() { t.stopped = true }

// StartTimer fires fn immediately; tests don't need real elapsed time to
// exercise the close-timer retry loop.
func (r *Runtime) StartTimer(d time.Duration, fn func()) genio.Timer {
	t := &fakeTimer{}
	fn()
	return t
}

// ReadWanted/WriteWanted let a test assert on the runtime's observed
// readiness intent for fd.
func (r *Runtime) ReadWanted(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fds[fd] != nil && r.fds[fd].readWanted
}

func (r *Runtime) WriteWanted(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fds[fd] != nil && r.fds[fd].writeWanted
}

// FireRead/FireWrite/FireExcept simulate the poller delivering readiness for
// fd, as a test driver would.
func (r *Runtime) FireRead(fd int) {
	r.mu.Lock()
	s, ok := r.fds[fd]
	r.mu.Unlock()
	if ok && s.h.Read != nil {
		s.h.Read(fd)
	}
}

func (r *Runtime) FireWrite(fd int) {
	r.mu.Lock()
	s, ok := r.fds[fd]
	r.mu.Unlock()
	if ok && s.h.Write != nil {
		s.h.Write(fd)
	}
}

func (r *Runtime) FireExcept(fd int) {
	r.mu.Lock()
	s, ok := r.fds[fd]
	r.mu.Unlock()
	if ok && s.h.Except != nil {
		s.h.Except(fd)
	}
}
