// Package idgen generates opaque, process-unique tokens for member IDs
// and request IDs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a 16-byte random token hex-encoded, unique with
// overwhelming probability within a process's lifetime.
func New() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on a supported platform does not fail in
		// practice; if it somehow does, degrade to a fixed-width zero
		// token rather than panicking the caller.
		return hex.EncodeToString(buf[:])
	}
	return hex.EncodeToString(buf[:])
}
