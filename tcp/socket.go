package tcp

import "golang.org/x/sys/unix"

// setupSocket applies the non-blocking + SO_KEEPALIVE configuration every
// TCP descriptor in this package carries, client or server side. Grounded
// in genio_tcp.c's tcp_socket_setup.
func setupSocket(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

func createSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := setupSocket(fd); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// writeNofail writes data to fd in full, best-effort, ignoring any error:
// used only to push a rejection message at a descriptor about to be closed.
// Grounded in genio_tcp.c's write_nofail.
func writeNofail(fd int, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil || n <= 0 {
			return
		}
		data = data[n:]
	}
}
