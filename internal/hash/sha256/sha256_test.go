package sha256

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	assert.Equal(t, want, h.Hash([]byte("hello world")))
	assert.Equal(t, want, h.Hash([]byte("hello world")))
}

func TestHasherArchiveKey(t *testing.T) {
	t.Parallel()

	h := New()
	at := time.Date(2025, 6, 15, 23, 30, 0, 0, time.FixedZone("CDT", -5*60*60))
	assert.Equal(t,
		"pages/2025-06-16/b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9.html",
		h.ArchiveKey(at, []byte("hello world")))
}
