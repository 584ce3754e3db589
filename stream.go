package genio

import (
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/genio/log"
)

// Callbacks are the upper-layer receivers a Stream delivers readiness
// events to. None of them is ever invoked while the Stream's internal lock
// is held.
type Callbacks struct {
	// Read is called with the held buffer once data has arrived (or err !=
	// nil on peer-close/broken-pipe). It returns how many bytes of p were
	// consumed; the remainder, if any, stays buffered for the next call
	// with no intervening read(2).
	Read func(s *Stream, err error, p []byte) (consumed int)
	// Write fires once per write-ready edge.
	Write func(s *Stream)
	// Urgent fires once per out-of-band byte observed on the socket.
	Urgent func(s *Stream)
}

// OpenDoneFunc is the one-shot completion callback for Open. data is
// exactly the value passed to Open, never a value substituted from
// elsewhere in the Stream's internal state.
type OpenDoneFunc func(s *Stream, err error, data any)

// CloseDoneFunc is the one-shot completion callback for Close.
type CloseDoneFunc func(s *Stream, data any)

const defaultMaxReadSize = 4096

// Stream is the fd lower layer: a single OS descriptor driven through
// StateClosed/StateInOpen/StateOpen/StateInClose by readiness events
// reported from a Runtime, with a transport strategy supplying the
// transport-specific hooks (dial, retry, address formatting, close
// checking).
type Stream struct {
	rt        Runtime
	transport Transport
	log       log.Logger

	mu          sync.Mutex
	state       State
	fd          int
	cbs         Callbacks
	readEnabled bool
	writeEnabled bool

	readBuf []byte
	readPos int
	readLen int
	inRead  bool

	deferredPending bool
	deferredRead    bool
	deferredClose   bool

	openDone OpenDoneFunc
	openData any
	openErr  error

	closeDone CloseDoneFunc
	closeData any

	refs atomic.Int32
}

// Option configures a Stream at construction time.
type Option func(*streamConfig)

type streamConfig struct {
	maxReadSize int
	logger      log.Logger
}

// WithMaxReadSize overrides the default read-buffer capacity.
func WithMaxReadSize(n int) Option {
	return func(c *streamConfig) { c.maxReadSize = n }
}

// WithLogger attaches structured logging to the stream's state transitions.
func WithLogger(l log.Logger) Option {
	return func(c *streamConfig) { c.logger = l }
}

// NewStream constructs a stream in StateClosed. transport supplies whatever
// hooks apply (Opener is required for Open to work; CheckOpener and Retryer
// are used when present, and the rest are optional).
func NewStream(rt Runtime, transport Transport, opts ...Option) *Stream {
	cfg := streamConfig{maxReadSize: defaultMaxReadSize, logger: log.Disabled()}
	for _, o := range opts {
		o(&cfg)
	}
	s := &Stream{
		rt:        rt,
		transport: transport,
		log:       cfg.logger,
		fd:        -1,
		readBuf:   make([]byte, cfg.maxReadSize),
	}
	s.refs.Store(1)
	return s
}

// NewOpenStream constructs a stream already in StateOpen around an
// established descriptor (the acceptor's path: accept() already handed over
// a live connection).
func NewOpenStream(rt Runtime, transport Transport, fd int, opts ...Option) (*Stream, error) {
	s := NewStream(rt, transport, opts...)
	s.fd = fd
	s.state = StateOpen
	if err := rt.SetFDHandlers(fd, FDHandlers{
		Read:   s.handleReadReady,
		Write:  s.handleWriteReady,
		Except: s.handleExceptReady,
	}); err != nil {
		s.fd = -1
		s.state = StateClosed
		return nil, err
	}
	return s, nil
}

// SetCallbacks installs the upper-layer receiver. Must precede the first
// Open.
func (s *Stream) SetCallbacks(cbs Callbacks) {
	s.mu.Lock()
	s.cbs = cbs
	s.mu.Unlock()
}

// FD returns the current OS descriptor, or -1 if the stream is closed. It
// exists for transport strategies, which need the raw fd to perform
// syscalls; ordinary callers should not need it.
func (s *Stream) FD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Write attempts one non-blocking write. It never blocks and never buffers
// on the caller's behalf: "would block" is reported as (0, nil), a
// zero-length write result is reported as (0, syscall.EPIPE).
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	fd := s.fd
	state := s.state
	s.mu.Unlock()

	if state != StateOpen {
		return 0, ErrBusy
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, p)
		if err == nil {
			if n == 0 {
				return 0, syscall.EPIPE
			}
			return n, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, err
		}
	}
}

// Open is permitted only from StateClosed, and only when the transport
// implements Opener. On synchronous success the stream moves straight to
// StateOpen; on an in-progress connect it moves to StateInOpen and arms the
// write-readiness watch as the completion signal.
func (s *Stream) Open(done OpenDoneFunc, data any) error {
	opener, ok := s.transport.(Opener)
	if !ok {
		return ErrNotSupported
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	fd, err := opener.SubOpen(s)
	if err != nil && err != ErrInProgress {
		return err
	}

	s.mu.Lock()
	s.fd = fd
	s.openDone = done
	s.openData = data
	if err == ErrInProgress {
		s.state = StateInOpen
		s.mu.Unlock()
		if regErr := s.rt.SetFDHandlers(fd, FDHandlers{
			Read:   s.handleReadReady,
			Write:  s.handleWriteReady,
			Except: s.handleExceptReady,
		}); regErr != nil {
			return regErr
		}
		s.rt.SetWriteHandler(fd, true)
		s.log.Debug().Int("fd", fd).Log("open in progress")
		return ErrInProgress
	}

	s.state = StateOpen
	s.mu.Unlock()
	if regErr := s.rt.SetFDHandlers(fd, FDHandlers{
		Read:   s.handleReadReady,
		Write:  s.handleWriteReady,
		Except: s.handleExceptReady,
	}); regErr != nil {
		return regErr
	}
	s.log.Debug().Int("fd", fd).Log("open completed synchronously")
	s.finishOpen(nil)
	return nil
}

// Close is permitted only from StateOpen or StateInOpen. It stores the
// completion callback, observes CloseStateStart on the transport, and
// asynchronously unregisters readiness handlers; finalisation (and the
// close_done invocation) happens once the Runtime confirms no callback for
// this fd is or will be in flight.
func (s *Stream) Close(done CloseDoneFunc, data any) error {
	s.mu.Lock()
	if s.state != StateOpen && s.state != StateInOpen {
		s.mu.Unlock()
		return ErrBusy
	}
	fd := s.fd
	if s.state == StateInOpen {
		// A user-initiated cancellation of an in-progress open is not a
		// connect failure: suppress the pending open callback entirely
		// rather than deliver a misleading success. Contrast
		// abortOpenIntoClose, which aborts into close with a real error and
		// must still deliver it.
		s.openDone = nil
	}
	s.state = StateInClose
	s.closeDone = done
	s.closeData = data
	s.mu.Unlock()
	s.addRef() // held by the close teardown, dropped by dispatchCloseDone

	s.log.Debug().Int("fd", fd).Log("close requested")

	if cc, ok := s.transport.(CloseChecker); ok {
		_, _, _ = cc.CheckClose(s, CloseStateStart)
	}

	return s.rt.ClearFDHandlers(fd, func() { s.onFDCleared() })
}

// SetReadCallbackEnable toggles read-readiness intent. If data is already
// buffered and the user has just enabled reception, redelivery is deferred
// onto the trampoline rather than invoked inline.
func (s *Stream) SetReadCallbackEnable(enable bool) {
	s.mu.Lock()
	wasEnabled := s.readEnabled
	s.readEnabled = enable
	state := s.state
	fd := s.fd
	haveBuffered := enable && !wasEnabled && s.readLen > 0
	needSubmit := false
	if haveBuffered {
		needSubmit = s.markDeferred(true, false)
	}
	s.mu.Unlock()

	if needSubmit {
		s.addRef()
		_ = s.rt.Submit(s.runDeferred)
	}

	if state == StateOpen && !haveBuffered {
		s.rt.SetReadHandler(fd, enable)
	}
}

// SetWriteCallbackEnable toggles write-readiness intent.
func (s *Stream) SetWriteCallbackEnable(enable bool) {
	s.mu.Lock()
	s.writeEnabled = enable
	state := s.state
	fd := s.fd
	s.mu.Unlock()

	if state == StateOpen {
		s.rt.SetWriteHandler(fd, enable)
	}
}

// RemoteAddrString delegates to the transport, or returns ErrNotSupported.
func (s *Stream) RemoteAddrString() (string, error) {
	if a, ok := s.transport.(AddrStringer); ok {
		return a.RemoteAddrString(s)
	}
	return "", ErrNotSupported
}

// RemoteAddr delegates to the transport, or returns ErrNotSupported.
func (s *Stream) RemoteAddr() (any, error) {
	if a, ok := s.transport.(AddrGetter); ok {
		return a.RemoteAddr(s)
	}
	return nil, ErrNotSupported
}

// RemoteID delegates to the transport, or returns ErrNotSupported. No
// transport in this module populates it.
func (s *Stream) RemoteID() (string, error) {
	if a, ok := s.transport.(RemoteIDer); ok {
		return a.RemoteID(s)
	}
	return "", ErrNotSupported
}

// Free drops the caller's reference. The transport's Release hook (if any)
// runs once the last reference is dropped after the stream has reached
// StateClosed.
func (s *Stream) Free() {
	s.release()
}

func (s *Stream) addRef() { s.refs.Add(1) }

func (s *Stream) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if !closed {
		return
	}
	if r, ok := s.transport.(Releaser); ok {
		r.Release(s)
	}
}

// --- readiness handlers, invoked by the Runtime off its own goroutine ---

func (s *Stream) handleReadReady(fd int) {
	s.mu.Lock()
	if s.state != StateOpen || s.inRead {
		s.mu.Unlock()
		return
	}
	s.inRead = true
	s.rt.SetReadHandler(fd, false)
	s.mu.Unlock()

	s.deliverReads(fd)
}

// deliverReads fills the buffer (if empty) and loops delivering to the user
// callback until the buffer is empty or the user stops consuming. It holds
// in_read for its entire duration and never holds the lock while Read runs.
func (s *Stream) deliverReads(fd int) {
	for {
		s.mu.Lock()
		if s.readLen == 0 {
			s.mu.Unlock()
			n, err := unix.Read(fd, s.readBufSlice())
			s.mu.Lock()
			if err != nil {
				s.mu.Unlock()
				if err == unix.EINTR || err == unix.EAGAIN {
					s.finishReadCycle()
					return
				}
				s.deliverError(err)
				s.finishReadCycle()
				return
			}
			if n == 0 {
				s.mu.Unlock()
				s.deliverError(syscall.EPIPE)
				s.finishReadCycle()
				return
			}
			s.readPos = 0
			s.readLen = n
		}
		p := s.readBuf[s.readPos : s.readPos+s.readLen]
		cb := s.cbs.Read
		s.mu.Unlock()

		if cb == nil {
			s.mu.Lock()
			s.readPos = 0
			s.readLen = 0
			s.mu.Unlock()
			s.finishReadCycle()
			return
		}

		consumed := cb(s, nil, p)
		if consumed <= 0 {
			// The user stopped consuming: keep the bytes held and leave
			// read-readiness disarmed.
			s.finishReadCycle()
			return
		}

		s.mu.Lock()
		if consumed >= s.readLen {
			s.readPos = 0
			s.readLen = 0
		} else {
			s.readPos += consumed
			s.readLen -= consumed
		}
		empty := s.readLen == 0
		s.mu.Unlock()

		if empty {
			s.finishReadCycle()
			return
		}
		// Buffer not fully consumed: loop again without another read(2),
		// per the read-consumption round-trip law.
	}
}

func (s *Stream) deliverError(err error) {
	s.mu.Lock()
	cb := s.cbs.Read
	s.mu.Unlock()
	if cb != nil {
		cb(s, err, nil)
	}
}

func (s *Stream) readBufSlice() []byte {
	return s.readBuf
}

// finishReadCycle clears in_read and re-arms read-readiness iff the stream
// is still open, reads are wanted, and the buffer is empty.
func (s *Stream) finishReadCycle() {
	s.mu.Lock()
	s.inRead = false
	rearm := s.state == StateOpen && s.readEnabled && s.readLen == 0
	fd := s.fd
	s.mu.Unlock()
	if rearm {
		s.rt.SetReadHandler(fd, true)
	}
}

func (s *Stream) handleWriteReady(fd int) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateInOpen:
		s.continueOpen(fd)
	case StateOpen:
		s.mu.Lock()
		cb := s.cbs.Write
		s.mu.Unlock()
		if cb != nil {
			cb(s)
		}
	}
}

func (s *Stream) handleExceptReady(fd int) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateOpen {
		return
	}
	var oob [1]byte
	_, _ = unix.Recvfrom(fd, oob[:], unix.MSG_OOB)
	s.mu.Lock()
	cb := s.cbs.Urgent
	s.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// continueOpen resolves an in-progress connect on write-readiness: checks
// the outcome via the transport's CheckOpener, and on failure walks to the
// next candidate via Retryer.
func (s *Stream) continueOpen(fd int) {
	checker, _ := s.transport.(CheckOpener)
	var err error
	if checker != nil {
		err = checker.CheckOpen(s, fd)
	}
	if err == nil {
		s.mu.Lock()
		s.state = StateOpen
		s.mu.Unlock()
		s.finishOpen(nil)
		return
	}

	s.log.Notice().Int("fd", fd).Err(err).Log("connect attempt failed")

	_ = s.rt.ClearFDHandlersNoRpt(fd)
	_ = unix.Close(fd)
	s.mu.Lock()
	s.fd = -1
	s.mu.Unlock()

	retryer, ok := s.transport.(Retryer)
	if !ok {
		s.abortOpenIntoClose(err)
		return
	}
	newFD, retryErr, exhausted := retryer.RetryOpen(s)
	switch {
	case exhausted:
		s.abortOpenIntoClose(retryErr)
	case retryErr == ErrInProgress:
		s.mu.Lock()
		s.fd = newFD
		s.mu.Unlock()
		if regErr := s.rt.SetFDHandlers(newFD, FDHandlers{
			Read:   s.handleReadReady,
			Write:  s.handleWriteReady,
			Except: s.handleExceptReady,
		}); regErr != nil {
			s.abortOpenIntoClose(regErr)
			return
		}
		s.rt.SetWriteHandler(newFD, true)
		s.log.Debug().Int("fd", newFD).Log("retrying connect on next address")
	case retryErr == nil:
		s.mu.Lock()
		s.fd = newFD
		s.state = StateOpen
		s.mu.Unlock()
		if regErr := s.rt.SetFDHandlers(newFD, FDHandlers{
			Read:   s.handleReadReady,
			Write:  s.handleWriteReady,
			Except: s.handleExceptReady,
		}); regErr != nil {
			s.abortOpenIntoClose(regErr)
			return
		}
		s.finishOpen(nil)
	default:
		s.abortOpenIntoClose(retryErr)
	}
}

// abortOpenIntoClose transparently walks a failed in-progress open through
// the close path, so the caller never observes a half-open stream: the
// descriptor is already gone, so we drive state straight to StateInClose
// and finalise, carrying the failure into open_done.
func (s *Stream) abortOpenIntoClose(err error) {
	s.log.Warning().Err(err).Log("open aborted, no more addresses to try")
	s.mu.Lock()
	s.state = StateInClose
	s.openErr = err
	s.mu.Unlock()
	s.addRef() // held by the close teardown, dropped by dispatchCloseDone
	s.onFDCleared()
}

// finishOpen re-applies the read/write readiness intents to the runtime
// (mirroring fd_finish_open, which re-arms read_enabled/write_enabled on the
// newly-open fd before reporting completion) and dispatches the one-shot
// open callback exactly once, using the callback-data value the caller
// originally supplied to Open -- not any other field of the stream's
// internal state.
func (s *Stream) finishOpen(err error) {
	s.mu.Lock()
	done := s.openDone
	data := s.openData
	s.openDone = nil
	state := s.state
	readEnabled, writeEnabled, fd := s.readEnabled, s.writeEnabled, s.fd
	s.mu.Unlock()

	if state == StateOpen {
		s.rt.SetReadHandler(fd, readEnabled)
		s.rt.SetWriteHandler(fd, writeEnabled)
	}

	if done != nil {
		done(s, err, data)
	}
}

// onFDCleared is the Runtime's confirmation that no readiness callback for
// this fd is or ever will be in flight again. From here: optionally poll
// CheckClose until it reports done, then finalise.
func (s *Stream) onFDCleared() {
	if cc, ok := s.transport.(CloseChecker); ok {
		s.pollCheckClose(cc)
		return
	}
	s.finalizeClose()
}

func (s *Stream) pollCheckClose(cc CloseChecker) {
	done, retryAfter, _ := cc.CheckClose(s, CloseStateDone)
	if done {
		s.finalizeClose()
		return
	}
	s.log.Debug().Dur("retry_after", retryAfter).Log("close check not done, re-arming timer")
	s.rt.StartTimer(retryAfter, func() { s.pollCheckClose(cc) })
}

// finalizeClose closes the descriptor, dispatches any pending open_done
// (the case where open failed mid-IN_OPEN and was short-circuited into
// close), and invokes close_done: dispatchCloseDone takes the callback out
// of its slot before clearing the slot, so it is always invoked (the source
// ordering bug nulled the slot before reading it).
func (s *Stream) finalizeClose() {
	s.mu.Lock()
	fd := s.fd
	s.fd = -1
	pendingOpenErr := s.openErr
	hasPendingOpen := s.openDone != nil
	s.mu.Unlock()

	if fd >= 0 {
		_ = unix.Close(fd)
	}

	if hasPendingOpen {
		s.finishOpen(pendingOpenErr)
	}

	s.mu.Lock()
	deferredArmed := s.deferredPending
	s.mu.Unlock()

	if deferredArmed {
		s.mu.Lock()
		s.deferredClose = true
		s.mu.Unlock()
		return
	}

	s.dispatchCloseDone()
}

func (s *Stream) dispatchCloseDone() {
	s.mu.Lock()
	done := s.closeDone
	data := s.closeData
	s.closeDone = nil
	s.state = StateClosed
	s.mu.Unlock()

	s.log.Debug().Log("closed")

	if done != nil {
		done(s, data)
	}
	s.release()
}

// markDeferred marks the trampoline dirty and reports whether this call is
// the one that newly arms it (deferredPending was false), in which case the
// caller must, outside of s.mu, take a reference and submit runDeferred to
// the runtime. Must be called with s.mu held; never submits itself, so it
// is safe to call from contexts that cannot risk a synchronous Submit
// re-entering this same lock.
func (s *Stream) markDeferred(read, closing bool) (needSubmit bool) {
	if read {
		s.deferredRead = true
	}
	if closing {
		s.deferredClose = true
	}
	if s.deferredPending {
		return false
	}
	s.deferredPending = true
	return true
}

// runDeferred is the trampoline body: drains deferred_close then loops
// draining deferred_read until empty, re-applies the current read/write
// intents if the stream is still open, clears deferred_op_pending, and
// drops the reference taken when it was submitted. Exactly one trampoline is in
// flight per stream at a time.
func (s *Stream) runDeferred() {
	s.mu.Lock()
	runClose := s.deferredClose
	s.deferredClose = false
	s.mu.Unlock()

	if runClose {
		s.dispatchCloseDone()
	}

	for {
		s.mu.Lock()
		if !s.deferredRead {
			s.mu.Unlock()
			break
		}
		s.deferredRead = false
		state := s.state
		fd := s.fd
		s.mu.Unlock()
		if state == StateOpen {
			s.deliverReads(fd)
		}
	}

	s.mu.Lock()
	s.deferredPending = false
	if s.state == StateOpen {
		readEnabled, writeEnabled, fd := s.readEnabled, s.writeEnabled, s.fd
		s.mu.Unlock()
		s.rt.SetReadHandler(fd, readEnabled)
		s.rt.SetWriteHandler(fd, writeEnabled)
	} else {
		s.mu.Unlock()
	}
	s.release()
}
