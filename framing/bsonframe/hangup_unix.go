//go:build !windows

package bsonframe

import (
	"net"
	"syscall"
)

// peerHungUp reports, best-effort, whether the peer has already half-closed
// its side of conn without consuming any buffered data. It uses a
// non-destructive MSG_PEEK read on the raw file descriptor; conns that
// don't expose a raw fd (e.g. net.Pipe) always report false.
func peerHungUp(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	hungUp := false
	_ = rc.Read(func(fd uintptr) bool {
		buf := make([]byte, 1)
		n, _, rerr := syscall.Recvfrom(int(fd), buf, syscall.MSG_PEEK)
		hungUp = rerr == nil && n == 0
		return true
	})
	return hungUp
}
