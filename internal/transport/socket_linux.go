//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// setSocketOptions sets SO_REUSEADDR on conn so a just-restarted daemon can
// rebind its configured ports before the OS has released the prior
// process's TIME_WAIT state.
func setSocketOptions(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockoptErr error
	if err := raw.Control(func(fd uintptr) {
		sockoptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockoptErr
}
