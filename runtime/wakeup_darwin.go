//go:build darwin

package runtime

import "golang.org/x/sys/unix"

// wakeFD is a self-pipe used to break kqueue out of a blocking Kevent call;
// Darwin has no eventfd, so this uses a non-blocking pipe(2) pair instead.
type wakeFD struct {
	r, w int
}

func newWakeFD() (*wakeFD, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	_ = unix.SetNonblock(fds[0], true)
	_ = unix.SetNonblock(fds[1], true)
	return &wakeFD{r: fds[0], w: fds[1]}, nil
}

func (w *wakeFD) signal() {
	var buf [1]byte
	_, _ = unix.Write(w.w, buf[:])
}

func (w *wakeFD) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.r, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeFD) close() error {
	_ = unix.Close(w.w)
	return unix.Close(w.r)
}

// readFD is the descriptor the poller should watch for wakeups.
func (w *wakeFD) readFD() int { return w.r }
