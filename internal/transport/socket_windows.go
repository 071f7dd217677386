//go:build windows

package transport

import (
	"net"

	"golang.org/x/sys/windows"
)

// setSocketOptions sets SO_REUSEADDR on conn. Windows SO_REUSEADDR differs
// from POSIX (it behaves closer to BSD's SO_REUSEPORT), but it is the only
// lever available here and is sufficient for rebinding after a restart.
func setSocketOptions(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockoptErr error
	if err := raw.Control(func(fd uintptr) {
		sockoptErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockoptErr
}
