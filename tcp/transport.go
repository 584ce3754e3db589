package tcp

import (
	"context"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/genio"
)

// peerAddr answers RemoteAddrString/RemoteAddr once a peer address is known,
// shared by both the client ([Transport]) and server-side
// ([ServerTransport]) strategies -- mirroring tcp_raddr_to_str/tcp_get_raddr,
// which are identical hooks on both the client and server fd_ll_ops tables
// in genio_tcp.c.
type peerAddr struct {
	mu    sync.Mutex
	raddr net.Addr
}

func (p *peerAddr) setRemote(a net.Addr) {
	p.mu.Lock()
	p.raddr = a
	p.mu.Unlock()
}

// RemoteAddrString formats the peer as "<numeric-host>:<port>", or
// "unknown:<reason>" if no peer is yet recorded (genio_tcp.c's
// tcp_raddr_to_str, with getnameinfo's NI_NUMERICHOST folded into net.IP's
// own numeric String()).
func (p *peerAddr) RemoteAddrString(*genio.Stream) (string, error) {
	p.mu.Lock()
	a := p.raddr
	p.mu.Unlock()
	if a == nil {
		return "unknown:not connected", genio.ErrInvalid
	}
	return a.String(), nil
}

// RemoteAddr returns the peer as a *net.TCPAddr.
func (p *peerAddr) RemoteAddr(*genio.Stream) (any, error) {
	p.mu.Lock()
	a := p.raddr
	p.mu.Unlock()
	if a == nil {
		return nil, genio.ErrInvalid
	}
	return a, nil
}

// Transport is the client-side TCP dial strategy: SubOpen/RetryOpen/
// CheckOpen implement spec.md's multi-address connect-retry walk. Grounded
// in genio_tcp.c's tcp_sub_open/tcp_try_open/tcp_retry_open/tcp_check_open.
type Transport struct {
	peerAddr

	mu    sync.Mutex
	addrs []candidate
	curr  int
	// checkErr is the failure CheckOpen last observed; RetryOpen reports it
	// when no candidate is left to try.
	checkErr error
}

var (
	_ genio.Opener       = (*Transport)(nil)
	_ genio.Retryer      = (*Transport)(nil)
	_ genio.CheckOpener  = (*Transport)(nil)
	_ genio.AddrStringer = (*Transport)(nil)
	_ genio.AddrGetter   = (*Transport)(nil)
)

// NewTransport resolves address (a "host:port" pair) into the full
// candidate chain used for connect retry. It does not itself open a
// socket; pass the result to genio.NewStream and call Stream.Open.
func NewTransport(ctx context.Context, address string) (*Transport, error) {
	addrs, err := resolveDialAddrs(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Transport{addrs: addrs}, nil
}

// Dial is the common-case convenience: resolve address and construct a
// Stream ready for Open.
func Dial(ctx context.Context, rt genio.Runtime, address string, opts ...genio.Option) (*genio.Stream, error) {
	t, err := NewTransport(ctx, address)
	if err != nil {
		return nil, err
	}
	return genio.NewStream(rt, t, opts...), nil
}

func (t *Transport) Name() string { return "tcp" }

// SubOpen implements genio.Opener: seed curr from the start of the address
// list, then walk it synchronously until one candidate reports success or
// an in-progress connect.
func (t *Transport) SubOpen(s *genio.Stream) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curr = 0
	fd, err, _ := t.tryOpen()
	return fd, err
}

// RetryOpen implements genio.Retryer: advance past the candidate that just
// failed its CheckOpen and resume the walk from there.
func (t *Transport) RetryOpen(s *genio.Stream) (fd int, err error, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curr++
	if t.curr >= len(t.addrs) && t.checkErr != nil {
		return -1, t.checkErr, true
	}
	return t.tryOpen()
}

// tryOpen is tcp_try_open: create a socket for the current candidate,
// attempt a non-blocking connect, and on synchronous failure advance to the
// next candidate without returning to the caller, exactly as the C
// implementation's "retry:" goto loop does. Must be called with t.mu held.
func (t *Transport) tryOpen() (fd int, err error, exhausted bool) {
	var lastErr error = genio.ErrInvalid
	for t.curr < len(t.addrs) {
		cand := t.addrs[t.curr]
		newFD, sockErr := createSocket(cand.family)
		if sockErr != nil {
			lastErr = sockErr
			t.curr++
			continue
		}
		connErr := unix.Connect(newFD, cand.sockaddr)
		if connErr == nil {
			t.setRemote(cand.addr())
			return newFD, nil, false
		}
		if connErr == unix.EINPROGRESS {
			t.setRemote(cand.addr())
			return newFD, genio.ErrInProgress, false
		}
		_ = unix.Close(newFD)
		lastErr = connErr
		t.curr++
	}
	return -1, lastErr, true
}

// CheckOpen implements genio.CheckOpener: read SO_ERROR to determine the
// connect outcome (genio_tcp.c's tcp_check_open).
func (t *Transport) CheckOpen(s *genio.Stream, fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && errno != 0 {
		err = syscall.Errno(errno)
	}
	t.mu.Lock()
	t.checkErr = err
	t.mu.Unlock()
	return err
}

// ServerTransport is the TCP strategy for an already-established,
// acceptor-produced connection: only the address hooks apply (genio_tcp.c's
// tcp_server_fd_ll_ops has no sub_open).
type ServerTransport struct {
	peerAddr
}

var (
	_ genio.AddrStringer = (*ServerTransport)(nil)
	_ genio.AddrGetter   = (*ServerTransport)(nil)
)

func (t *ServerTransport) Name() string { return "tcp" }
