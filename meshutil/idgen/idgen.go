// Package idgen generates short random hex identifiers. The rpc package uses
// them to name the one-shot response callback of each request/response
// call, so they appear on the wire as response_callback_name values. They
// are never part of any registry key.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Random returns a random hex identifier with n bytes of entropy.
func Random(n int) string {
	if n <= 0 {
		n = 8
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable; callers treat the id as advisory, so fall back to
		// a fixed marker rather than propagating an error everywhere.
		return "unavailable"
	}
	return hex.EncodeToString(b)
}
