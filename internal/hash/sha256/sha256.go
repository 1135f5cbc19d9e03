// Package sha256 provides SHA-256 content hashing and archive keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"time"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArchiveKey returns pages/<yyyy-mm-dd>/<digest>.html for data fetched at at.
// Identical pages fetched on the same day share a key.
func (h *Hasher) ArchiveKey(at time.Time, data []byte) string {
	return path.Join("pages", at.UTC().Format(time.DateOnly), h.Hash(data)+".html")
}
