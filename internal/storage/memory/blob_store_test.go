package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/2025-06-15/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://pages/2025-06-15/abc.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("pages/2025-06-15/abc.html")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))
	assert.Equal(t, []string{"pages/2025-06-15/abc.html"}, store.Paths())
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := NewBlobStore().PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}
