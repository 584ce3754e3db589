//go:build linux

package runtime

import "golang.org/x/sys/unix"

// wakeFD is an eventfd used to break the runtime out of a blocking
// EpollWait when a task is submitted from another goroutine.
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &wakeFD{fd: fd}, nil
}

func (w *wakeFD) signal() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *wakeFD) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeFD) close() error {
	return unix.Close(w.fd)
}

// readFD is the descriptor the poller should watch for wakeups.
func (w *wakeFD) readFD() int { return w.fd }
