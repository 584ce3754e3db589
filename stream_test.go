package genio_test

import (
	"sync"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/genio"
	"github.com/joeycumines/genio/internal/fakeruntime"
)

// socketpair returns two connected, non-blocking unix-domain socket fds.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("setnonblock: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// syncOpener completes Open synchronously on the first call.
type syncOpener struct{ fd int }

func (syncOpener) Name() string                              { return "fake" }
func (o syncOpener) SubOpen(*genio.Stream) (int, error)      { return o.fd, nil }

// failThenNoRetryOpener completes asynchronously, then fails CheckOpen with
// no Retryer implemented -- the fd lower layer must transparently walk the
// failure through close and report it via open_done.
type failThenNoRetryOpener struct {
	fd     int
	connErr error
}

func (failThenNoRetryOpener) Name() string { return "fake" }
func (o failThenNoRetryOpener) SubOpen(*genio.Stream) (int, error) {
	return o.fd, genio.ErrInProgress
}
func (o failThenNoRetryOpener) CheckOpen(*genio.Stream, int) error { return o.connErr }

// multiAddrOpener simulates a two-address connect walk where the first
// address fails and the second succeeds synchronously on retry.
type multiAddrOpener struct {
	firstFD, secondFD int
	firstErr          error
}

func (multiAddrOpener) Name() string { return "fake" }
func (o multiAddrOpener) SubOpen(*genio.Stream) (int, error) {
	return o.firstFD, genio.ErrInProgress
}
func (o multiAddrOpener) CheckOpen(*genio.Stream, int) error { return o.firstErr }
func (o multiAddrOpener) RetryOpen(*genio.Stream) (int, error, bool) {
	return o.secondFD, nil, false
}

func TestOpen_SyncSuccess(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})

	var gotErr error
	var calls int
	err := s.Open(func(s *genio.Stream, err error, data any) {
		calls++
		gotErr = err
	}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if calls != 1 {
		t.Fatalf("open_done calls = %d, want 1", calls)
	}
	if gotErr != nil {
		t.Fatalf("open_done err = %v, want nil", gotErr)
	}
	if s.State() != genio.StateOpen {
		t.Fatalf("state = %v, want StateOpen", s.State())
	}
}

func TestOpen_AsyncFailure_NoRetryer_DeliversFailureAndCloses(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, failThenNoRetryOpener{fd: fd, connErr: syscall.ECONNREFUSED})

	var doneErr error
	var openCalls int
	err := s.Open(func(s *genio.Stream, err error, data any) {
		openCalls++
		doneErr = err
	}, nil)
	if err != genio.ErrInProgress {
		t.Fatalf("Open = %v, want ErrInProgress", err)
	}
	if s.State() != genio.StateInOpen {
		t.Fatalf("state = %v, want StateInOpen", s.State())
	}

	rt.FireWrite(fd)

	if openCalls != 1 {
		t.Fatalf("open_done calls = %d, want 1", openCalls)
	}
	if doneErr != syscall.ECONNREFUSED {
		t.Fatalf("open_done err = %v, want ECONNREFUSED", doneErr)
	}
	if s.State() != genio.StateClosed {
		t.Fatalf("state = %v, want StateClosed", s.State())
	}
	if s.FD() != -1 {
		t.Fatalf("fd = %d, want -1", s.FD())
	}
}

func TestOpen_MultiAddressFallback(t *testing.T) {
	rt := fakeruntime.New()
	first, _ := socketpair(t)
	second, _ := socketpair(t)
	s := genio.NewStream(rt, multiAddrOpener{firstFD: first, secondFD: second, firstErr: syscall.ECONNREFUSED})

	var doneErr error
	_ = s.Open(func(s *genio.Stream, err error, data any) { doneErr = err }, nil)

	rt.FireWrite(first)

	if doneErr != nil {
		t.Fatalf("open_done err = %v, want nil", doneErr)
	}
	if s.State() != genio.StateOpen {
		t.Fatalf("state = %v, want StateOpen", s.State())
	}
	if s.FD() != second {
		t.Fatalf("fd = %d, want second candidate %d", s.FD(), second)
	}
}

func TestClose_DuringInOpen_SuppressesOpenDone(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, failThenNoRetryOpener{fd: fd, connErr: syscall.ECONNREFUSED})

	var openCalls, closeCalls int
	err := s.Open(func(s *genio.Stream, err error, data any) { openCalls++ }, nil)
	if err != genio.ErrInProgress {
		t.Fatalf("Open = %v, want ErrInProgress", err)
	}

	if err := s.Close(func(s *genio.Stream, data any) { closeCalls++ }, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if openCalls != 0 {
		t.Fatalf("open_done calls = %d, want 0 (cancelled open never delivers)", openCalls)
	}
	if closeCalls != 1 {
		t.Fatalf("close_done calls = %d, want 1", closeCalls)
	}
	if s.State() != genio.StateClosed {
		t.Fatalf("state = %v, want StateClosed", s.State())
	}
}

func TestClose_OnClosed_ReturnsBusy(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})
	_ = s.Open(nil, nil)
	var calls int
	_ = s.Close(func(*genio.Stream, any) { calls++ }, nil)

	if err := s.Close(nil, nil); err != genio.ErrBusy {
		t.Fatalf("Close on CLOSED = %v, want ErrBusy", err)
	}
	if calls != 1 {
		t.Fatalf("close_done calls = %d, want 1 (idempotence: no second effect)", calls)
	}
}

func TestRead_PartialConsumption_NoInterveningSyscall(t *testing.T) {
	rt := fakeruntime.New()
	fd, peer := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd}, genio.WithMaxReadSize(64))
	_ = s.Open(nil, nil)

	var got [][]byte
	s.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			cp := append([]byte(nil), p...)
			got = append(got, cp)
			if len(got) == 1 {
				return 2
			}
			return len(p)
		},
	})
	s.SetReadCallbackEnable(true)

	if _, err := unix.Write(peer, []byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	rt.FireRead(fd)

	if len(got) != 2 {
		t.Fatalf("read_callback invocations = %d, want 2", len(got))
	}
	if string(got[0]) != "abcdef" {
		t.Fatalf("first delivery = %q, want %q", got[0], "abcdef")
	}
	if string(got[1]) != "cdef" {
		t.Fatalf("second delivery = %q, want %q (held buffer advanced by consumed, no intervening read)", got[1], "cdef")
	}
	if !rt.ReadWanted(fd) {
		t.Fatal("read-readiness should be re-armed once the buffer is empty")
	}
}

func TestRead_PeerClose_DeliversZeroLenError(t *testing.T) {
	rt := fakeruntime.New()
	fd, peer := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})
	_ = s.Open(nil, nil)

	var gotErr error
	var calls int
	s.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			calls++
			gotErr = err
			return 0
		},
	})
	s.SetReadCallbackEnable(true)

	_ = unix.Close(peer)
	rt.FireRead(fd)

	if calls != 1 {
		t.Fatalf("read_callback calls = %d, want 1", calls)
	}
	if gotErr != syscall.EPIPE {
		t.Fatalf("err = %v, want EPIPE", gotErr)
	}
}

func TestWrite_ZeroLength_NoSyscall(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})
	_ = s.Open(nil, nil)

	n, err := s.Write(nil)
	if n != 0 || err != nil {
		t.Fatalf("Write(nil) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestWrite_NotOpen_ReturnsBusy(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})

	if _, err := s.Write([]byte("x")); err != genio.ErrBusy {
		t.Fatalf("Write before Open = %v, want ErrBusy", err)
	}
}

func TestSetReadCallbackEnable_ReenableWithEmptyBuffer_NoRedelivery(t *testing.T) {
	rt := fakeruntime.New()
	fd, peer := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})
	_ = s.Open(nil, nil)

	var mu sync.Mutex
	var delivered []byte
	s.SetCallbacks(genio.Callbacks{
		Read: func(s *genio.Stream, err error, p []byte) int {
			mu.Lock()
			delivered = append(delivered, p...)
			mu.Unlock()
			return len(p)
		},
	})

	s.SetReadCallbackEnable(true)
	_, _ = unix.Write(peer, []byte("hi"))
	rt.FireRead(fd)
	s.SetReadCallbackEnable(false)

	// Re-enabling with nothing buffered re-arms the watch directly; the
	// deferred-redelivery path only triggers when bytes are already held,
	// which this scenario does not exercise (buffer was drained above).
	s.SetReadCallbackEnable(true)

	mu.Lock()
	got := string(delivered)
	mu.Unlock()
	if got != "hi" {
		t.Fatalf("delivered = %q, want %q", got, "hi")
	}
}

func TestUrgent_FiresOnExceptReady(t *testing.T) {
	rt := fakeruntime.New()
	fd, _ := socketpair(t)
	s := genio.NewStream(rt, syncOpener{fd: fd})
	_ = s.Open(nil, nil)

	var calls int
	s.SetCallbacks(genio.Callbacks{Urgent: func(*genio.Stream) { calls++ }})

	rt.FireExcept(fd)

	if calls != 1 {
		t.Fatalf("urgent_callback calls = %d, want 1", calls)
	}
}
