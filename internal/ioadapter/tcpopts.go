//go:build linux

package ioadapter

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneTCP disables Nagle's algorithm on a freshly accepted or dialed TCP
// connection. The wire protocol is request/response with small frames
// pipelined back-to-back; Nagle's coalescing only adds latency here, the
// same tradeoff stock Redis makes by setting TCP_NODELAY on every
// client socket. net.TCPConn exposes this via SetNoDelay on most
// platforms, but going through SyscallConn+x/sys keeps the raw-fd path
// real rather than decorative, matching the registered-fd table's
// "hand out a real fd-backed capability" contract.
func tuneTCP(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
