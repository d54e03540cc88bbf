package transport

import "syscall"

// setReuseAddr enables SO_REUSEADDR on the listening socket before bind,
// letting more than one instance of this process share the multicast
// port on one host. There is no third-party socket-options library
// anywhere in the retrieved corpus; every repo that needs this reaches
// for the standard library's syscall package directly, which is what
// this does.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
