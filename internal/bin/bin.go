// Package bin holds the fixed-width integer encoding used by the frame
// header. There is no third-party encoding library for "write one uint64
// as little-endian bytes"; encoding/binary is the correct tool.
package bin

import "encoding/binary"

// PutU64LE writes v into b (len(b) must be >= 8) as little-endian.
func PutU64LE(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}

// U64LE reads a little-endian uint64 from b (len(b) must be >= 8).
func U64LE(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
