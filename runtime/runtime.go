package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/genio"
)

var (
	// ErrClosed is returned by Submit calls made after Run has returned.
	// StartTimer and SetFDHandlers do not check for shutdown.
	ErrClosed = errors.New("runtime: closed")
	// ErrFDRegistered is returned by SetFDHandlers for an fd already
	// registered.
	ErrFDRegistered = errors.New("runtime: fd already registered")
)

// compile-time assertion: *Runtime implements genio.Runtime, the OS-services
// port the fd lower layer is built on.
var _ genio.Runtime = (*Runtime)(nil)

// Runtime is a single-goroutine readiness reactor: one epoll/kqueue
// instance, a deferred-task queue, and a timer heap, all driven from Run.
// Grounded in the teacher's Loop (loop.go): New/Run/Submit/RegisterFD map
// directly, trimmed of the JS/Promise/microtask surface this module has no
// use for.
type Runtime struct {
	poller *poller
	wake   *wakeFD
	state  fastState

	taskMu sync.Mutex
	tasks  []func()

	timersMu sync.Mutex
	timers   timerHeap

	onPanic func(recovered any)
}

// New constructs a Runtime. It does not start polling; call Run (typically
// from its own goroutine) to do that.
func New(opts ...Option) (*Runtime, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	w, err := newWakeFD()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	r := &Runtime{poller: p, wake: w}
	for _, o := range opts {
		o(r)
	}
	p.exec = r.safeExecute
	if err := p.register(w.readFD(), func(int) { w.drain() }, nil, nil); err != nil {
		_ = p.close()
		_ = w.close()
		return nil, err
	}
	p.setWant(w.readFD(), true, false)
	return r, nil
}

// Run blocks, polling for readiness and draining the task/timer queues,
// until Close is called. It is intended to be the body of a dedicated
// goroutine; every callback the Runtime invokes (readiness handlers,
// Submit'd tasks, timers) runs on this same goroutine.
func (r *Runtime) Run() {
	r.state.store(stateRunning)
	for r.state.load() != stateTerminating {
		r.runDueTimers()
		r.drainTasks()
		timeout := r.nextTimeout(10 * time.Second)
		r.state.store(stateSleeping)
		r.poller.poll(timeout)
		// CAS rather than unconditional store: if Close raced in and moved
		// the state to terminating while poll was blocked, that must stick
		// so the loop condition below observes it instead of being stomped
		// back to running.
		r.state.tryTransition(stateSleeping, stateRunning)
	}
	r.state.store(stateTerminated)
}

// Close requests shutdown; Run's loop observes it on its next iteration and
// returns. Close itself does not block for Run to exit.
func (r *Runtime) Close() error {
	r.state.store(stateTerminating)
	r.wake.signal()
	return nil
}

func (r *Runtime) drainTasks() {
	for {
		r.taskMu.Lock()
		if len(r.tasks) == 0 {
			r.taskMu.Unlock()
			return
		}
		fn := r.tasks[0]
		r.tasks = r.tasks[1:]
		r.taskMu.Unlock()
		r.safeExecute(fn)
	}
}

func (r *Runtime) safeExecute(fn func()) {
	defer func() {
		if rec := recover(); rec != nil && r.onPanic != nil {
			r.onPanic(rec)
		}
	}()
	fn()
}

// Submit schedules fn to run on the runtime's own goroutine. This is the
// deferred-op trampoline: it never runs fn inline, and never runs it while
// any lock the caller holds is held.
func (r *Runtime) Submit(fn func()) error {
	if r.state.load() == stateTerminated {
		return ErrClosed
	}
	r.taskMu.Lock()
	r.tasks = append(r.tasks, fn)
	r.taskMu.Unlock()
	r.wake.signal()
	return nil
}

// StartTimer arms a one-shot timer; fn runs via Submit semantics once d has
// elapsed.
func (r *Runtime) StartTimer(d time.Duration, fn func()) genio.Timer {
	return r.scheduleTimer(d, fn)
}

// SetFDHandlers registers fd for readiness notifications. Both read and
// write watches start disabled; call SetReadHandler/SetWriteHandler to arm
// them.
func (r *Runtime) SetFDHandlers(fd int, h genio.FDHandlers) error {
	r.poller.mu.Lock()
	_, dup := r.poller.fds[fd]
	r.poller.mu.Unlock()
	if dup {
		return ErrFDRegistered
	}
	return r.poller.register(fd, h.Read, h.Write, h.Except)
}

// ClearFDHandlers asynchronously unregisters fd and invokes cleared, via
// Submit, once no callback for fd can fire again.
func (r *Runtime) ClearFDHandlers(fd int, cleared func()) error {
	_ = r.poller.unregister(fd)
	return r.Submit(cleared)
}

// ClearFDHandlersNoRpt synchronously unregisters fd with no completion
// notification; used only mid-connect-retry where the fd is about to be
// closed and replaced within the same call stack.
func (r *Runtime) ClearFDHandlersNoRpt(fd int) error {
	return r.poller.unregister(fd)
}

func (r *Runtime) SetReadHandler(fd int, enable bool) {
	r.poller.mu.Lock()
	e, ok := r.poller.fds[fd]
	want := false
	if ok {
		want = e.wantWrite
	}
	r.poller.mu.Unlock()
	if ok {
		r.poller.setWant(fd, enable, want)
	}
}

func (r *Runtime) SetWriteHandler(fd int, enable bool) {
	r.poller.mu.Lock()
	e, ok := r.poller.fds[fd]
	want := false
	if ok {
		want = e.wantRead
	}
	r.poller.mu.Unlock()
	if ok {
		r.poller.setWant(fd, want, enable)
	}
}

// SetExceptHandler is a no-op beyond registration: the except/urgent watch
// (EPOLLPRI) is always armed for a registered fd, matching TCP's
// always-on urgent-byte delivery.
func (r *Runtime) SetExceptHandler(fd int, enable bool) {}
