package tcp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/genio"
	"github.com/joeycumines/genio/log"
)

// AcceptFilter is the optional host-access check spec.md §4.3 describes: on
// reject, a rejection message (if non-empty) is written to the new
// descriptor before it is closed, and the upper layer never sees the
// connection. Grounded in genio_tcp.c's genio_check_tcpd_ok/write_nofail
// pairing in tcpna_readhandler.
type AcceptFilter func(remote net.Addr) (reject bool, message string)

// NewConnectionFunc delivers a freshly-accepted Stream, already in
// StateOpen, to the upper layer.
type NewConnectionFunc func(s *genio.Stream)

// Option configures an Acceptor at construction time.
type Option func(*acceptorConfig)

type acceptorConfig struct {
	maxReadSize int
	filter      AcceptFilter
	logger      log.Logger
}

// WithMaxReadSize overrides the read-buffer capacity of accepted streams.
func WithMaxReadSize(n int) Option {
	return func(c *acceptorConfig) { c.maxReadSize = n }
}

// WithAcceptFilter installs the optional host-access check.
func WithAcceptFilter(f AcceptFilter) Option {
	return func(c *acceptorConfig) { c.filter = f }
}

// WithLogger attaches structured logging to accept failures and filter
// rejections.
func WithLogger(l log.Logger) Option {
	return func(c *acceptorConfig) { c.logger = l }
}

type acceptorListener struct {
	fd   int
	addr net.Addr
}

// Acceptor is the TCP listening side: spec.md §3's acceptor state machine
// (setup/enabled/in_shutdown) over one or more listening descriptors.
// Grounded in genio_tcp.c's tcpna_data/tcpna_startup/tcpna_shutdown/
// tcpna_readhandler/tcpna_fd_cleared.
type Acceptor struct {
	rt            genio.Runtime
	name          string
	maxReadSize   int
	filter        AcceptFilter
	newConnection NewConnectionFunc
	log           log.Logger

	mu                   sync.Mutex
	listeners            []acceptorListener
	setup                bool
	enabled              bool
	inShutdown           bool
	nrAcceptCloseWaiting int
	shutdownDone         func()

	refs atomic.Int32
}

// NewAcceptor constructs an idle acceptor bound to no sockets yet; call
// Listen then Startup.
func NewAcceptor(rt genio.Runtime, name string, onNewConnection NewConnectionFunc, opts ...Option) *Acceptor {
	cfg := acceptorConfig{maxReadSize: defaultAcceptorReadSize, logger: log.Disabled()}
	for _, o := range opts {
		o(&cfg)
	}
	a := &Acceptor{
		rt:            rt,
		name:          name,
		maxReadSize:   cfg.maxReadSize,
		filter:        cfg.filter,
		newConnection: onNewConnection,
		log:           cfg.logger,
	}
	a.refs.Store(1)
	return a
}

const defaultAcceptorReadSize = 4096

// Listen resolves address and opens one listening, non-blocking socket per
// resolved candidate (an empty host yields both an IPv4 and an IPv6
// wildcard listener, matching open_socket). Must be called before Startup.
func (a *Acceptor) Listen(ctx context.Context, address string) error {
	candidates, err := resolveListenAddrs(ctx, address)
	if err != nil {
		return err
	}
	listeners := make([]acceptorListener, 0, len(candidates))
	for _, cand := range candidates {
		fd, err := bindAndListen(cand)
		if err != nil {
			for _, l := range listeners {
				_ = unix.Close(l.fd)
			}
			return err
		}
		addr := cand.addr()
		if sa, err := unix.Getsockname(fd); err == nil {
			if resolved := sockaddrToTCPAddr(sa); resolved != nil {
				addr = resolved
			}
		}
		listeners = append(listeners, acceptorListener{fd: fd, addr: addr})
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, listeners...)
	a.mu.Unlock()
	return nil
}

// Addrs returns the bound address of every listening socket, reflecting the
// actual ephemeral port the kernel assigned when the resolved candidate's
// port was 0.
func (a *Acceptor) Addrs() []net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	addrs := make([]net.Addr, len(a.listeners))
	for i, l := range a.listeners {
		addrs[i] = l.addr
	}
	return addrs
}

func bindAndListen(cand candidate) (int, error) {
	fd, err := unix.Socket(cand.family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if cand.family == unix.AF_INET6 {
		// IPv6-only, so the IPv6 wildcard can share a port with the IPv4 one.
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}
	if err := unix.Bind(fd, cand.sockaddr); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Startup is legal only when the acceptor is neither shutting down nor
// already set up; it registers every listener for read-readiness (genio_tcp.c's
// tcpna_startup).
func (a *Acceptor) Startup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inShutdown || a.setup {
		return genio.ErrBusy
	}
	for _, l := range a.listeners {
		fd := l.fd
		if err := a.rt.SetFDHandlers(fd, genio.FDHandlers{Read: a.handleAccept}); err != nil {
			return err
		}
		a.rt.SetReadHandler(fd, true)
	}
	a.setup = true
	a.enabled = true
	return nil
}

// Shutdown is legal only when set up. It unregisters every listener,
// expects one cleared callback per listener, and invokes done once the last
// one has fired (genio_tcp.c's tcpna_shutdown/tcpna_fd_cleared).
func (a *Acceptor) Shutdown(done func()) error {
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return genio.ErrBusy
	}
	a.inShutdown = true
	a.shutdownDone = done
	a.nrAcceptCloseWaiting = len(a.listeners)
	a.setup = false
	a.enabled = false
	a.refs.Add(1) // in-flight teardown co-owner
	listeners := append([]acceptorListener(nil), a.listeners...)
	a.mu.Unlock()

	for _, l := range listeners {
		fd := l.fd
		_ = a.rt.ClearFDHandlers(fd, func() { a.onListenerCleared(fd) })
	}
	return nil
}

func (a *Acceptor) onListenerCleared(fd int) {
	_ = unix.Close(fd)

	a.mu.Lock()
	a.nrAcceptCloseWaiting--
	left := a.nrAcceptCloseWaiting
	done := a.shutdownDone
	a.mu.Unlock()

	if left != 0 {
		return
	}
	if done != nil {
		done()
	}
	a.mu.Lock()
	a.inShutdown = false
	a.mu.Unlock()
	a.release()
}

// SetAcceptCallbackEnable toggles read-readiness on every listener without
// tearing any of them down (genio_tcp.c's tcpna_set_accept_callback_enable).
func (a *Acceptor) SetAcceptCallbackEnable(enable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled == enable {
		return
	}
	for _, l := range a.listeners {
		a.rt.SetReadHandler(l.fd, enable)
	}
	a.enabled = enable
}

// Free releases the caller's reference. If the acceptor is still set up, it
// is shut down first with no completion callback (genio_tcp.c's
// tcpna_free).
func (a *Acceptor) Free() {
	a.mu.Lock()
	setup := a.setup
	a.mu.Unlock()
	if setup {
		_ = a.Shutdown(nil)
	}
	a.release()
}

func (a *Acceptor) release() {
	a.refs.Add(-1)
}

func (a *Acceptor) handleAccept(fd int) {
	newFD, sa, err := unix.Accept(fd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			a.log.Err().Err(err).Str("acceptor", a.name).Log("accept failed")
		}
		return
	}

	remote := sockaddrToTCPAddr(sa)
	if a.filter != nil {
		if reject, msg := a.filter(remote); reject {
			ev := a.log.Notice().Str("acceptor", a.name)
			if remote != nil {
				ev = ev.Str("remote", remote.String())
			}
			if msg != "" {
				ev = ev.Str("reason", msg)
				writeNofail(newFD, []byte(msg))
			}
			ev.Log("rejected connection")
			_ = unix.Close(newFD)
			return
		}
	}

	if err := setupSocket(newFD); err != nil {
		_ = unix.Close(newFD)
		return
	}

	t := &ServerTransport{}
	t.setRemote(remote)

	s, err := genio.NewOpenStream(a.rt, t, newFD, genio.WithMaxReadSize(a.maxReadSize))
	if err != nil {
		_ = unix.Close(newFD)
		return
	}

	if a.newConnection != nil {
		a.newConnection(s)
	}
}
