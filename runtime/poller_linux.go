//go:build linux

package runtime

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ioEvents is a bitset of readiness conditions delivered for a descriptor.
type ioEvents uint32

const (
	ioRead ioEvents = 1 << iota
	ioWrite
	ioError
	ioHangup
	// ioExcept is TCP urgent/out-of-band data (EPOLLPRI); the teacher's
	// poller has no analogue for this because the event loop never needed
	// OOB delivery.
	ioExcept
)

type fdEntry struct {
	read, write, except func(fd int)
	wantRead, wantWrite bool
}

// poller is an epoll-backed readiness source for one Runtime.
type poller struct {
	epfd int
	exec func(func())

	mu  sync.Mutex
	fds map[int]*fdEntry
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: fd, exec: func(fn func()) { fn() }, fds: make(map[int]*fdEntry)}, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

func toEpollEvents(e *fdEntry) uint32 {
	var ev uint32 = unix.EPOLLPRI
	if e.wantRead {
		ev |= unix.EPOLLIN
	}
	if e.wantWrite {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *poller) register(fd int, read, write, except func(fd int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &fdEntry{read: read, write: write, except: except}
	p.fds[fd] = e
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(e),
		Fd:     int32(fd),
	})
}

func (p *poller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *poller) setWant(fd int, read, write bool) {
	p.mu.Lock()
	e, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.wantRead = read
	e.wantWrite = write
	ev := toEpollEvents(e)
	p.mu.Unlock()
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: ev,
		Fd:     int32(fd),
	})
}

// poll blocks up to timeoutMS (or forever if -1) and dispatches ready
// callbacks. Returns the number of events epoll reported, including any for
// descriptors unregistered in the meantime (which are skipped).
func (p *poller) poll(timeoutMS int) int {
	var buf [128]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, buf[:], timeoutMS)
	if err != nil {
		return 0
	}
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		p.mu.Lock()
		e, ok := p.fds[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}
		mask := buf[i].Events
		if mask&unix.EPOLLPRI != 0 && e.except != nil {
			p.exec(func() { e.except(fd) })
		}
		if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && e.read != nil {
			p.exec(func() { e.read(fd) })
		}
		if mask&(unix.EPOLLOUT|unix.EPOLLERR) != 0 && e.write != nil {
			p.exec(func() { e.write(fd) })
		}
	}
	return n
}
