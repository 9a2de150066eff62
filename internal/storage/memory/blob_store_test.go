package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "chrome-cdp/ab/abcd.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://chrome-cdp/ab/abcd.html", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("chrome-cdp/ab/abcd.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/html", contentType)
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "text/plain", nil)
	require.Error(t, err)

	_, _, ok := NewBlobStore().Object("missing")
	require.False(t, ok)
}
