//go:build darwin

package runtime

import (
	"sync"

	"golang.org/x/sys/unix"
)

type fdEntry struct {
	read, write, except func(fd int)
	wantRead, wantWrite bool
}

// poller is a kqueue-backed readiness source, the Darwin counterpart to
// poller_linux.go's epoll implementation. kqueue has no direct PRI/OOB
// readiness filter, and this poller never invokes a registered except
// callback: urgent data is not signalled on Darwin.
type poller struct {
	kq   int
	exec func(func())

	mu  sync.Mutex
	fds map[int]*fdEntry
}

func newPoller() (*poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &poller{kq: kq, exec: func(fn func()) { fn() }, fds: make(map[int]*fdEntry)}, nil
}

func (p *poller) close() error { return unix.Close(p.kq) }

func (p *poller) register(fd int, read, write, except func(fd int)) error {
	p.mu.Lock()
	p.fds[fd] = &fdEntry{read: read, write: write, except: except}
	p.mu.Unlock()
	return nil
}

func (p *poller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	changes := []unix.Kevent_t{
		mkEvent(fd, unix.EVFILT_READ, unix.EV_DELETE),
		mkEvent(fd, unix.EVFILT_WRITE, unix.EV_DELETE),
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func mkEvent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (p *poller) setWant(fd int, read, write bool) {
	p.mu.Lock()
	e, ok := p.fds[fd]
	if ok {
		e.wantRead, e.wantWrite = read, write
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	readFlag := uint16(unix.EV_DELETE)
	if read {
		readFlag = unix.EV_ADD | unix.EV_ENABLE
	}
	writeFlag := uint16(unix.EV_DELETE)
	if write {
		writeFlag = unix.EV_ADD | unix.EV_ENABLE
	}
	changes := []unix.Kevent_t{
		mkEvent(fd, unix.EVFILT_READ, readFlag),
		mkEvent(fd, unix.EVFILT_WRITE, writeFlag),
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
}

func (p *poller) poll(timeoutMS int) int {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}
	var events [128]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, events[:], ts)
	if err != nil {
		return 0
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		p.mu.Lock()
		e, ok := p.fds[fd]
		p.mu.Unlock()
		if !ok {
			continue
		}
		switch events[i].Filter {
		case unix.EVFILT_READ:
			if e.read != nil {
				p.exec(func() { e.read(fd) })
			}
		case unix.EVFILT_WRITE:
			if e.write != nil {
				p.exec(func() { e.write(fd) })
			}
		}
	}
	return n
}
