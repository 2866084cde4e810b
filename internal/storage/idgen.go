package storage

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID generates an opaque prefixed identifier the way the teacher's
// internal/apiserver/server/common.go generateID does: 6 random bytes
// hex-encoded behind a prefix, rather than google/uuid (which the
// teacher only pulls in transitively, never at a direct call site).
func NewID(prefix string) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
