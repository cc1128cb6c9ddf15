// Package sha256 digests crawl targets for the seen set and payload archive paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. It never fails; the error
// satisfies crawler.Hasher.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.HashString(string(data)), nil
}

// HashString digests s, typically a normalized target URL.
func (h *Hasher) HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
