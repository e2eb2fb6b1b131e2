//go:build windows

package bsonframe

import "net"

// peerHungUp has no portable MSG_PEEK equivalent wired up for Windows; Send
// falls back to discovering a closed peer via the next failed write.
func peerHungUp(conn net.Conn) bool { return false }
