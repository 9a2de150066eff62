package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-engine-gateway/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing dir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "artifacts")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("nested path", func(t *testing.T) {
		t.Parallel()
		name := "scrapes/chrome-cdp/ab/abcd.html"
		uri, err := store.PutObject(ctx, name, "text/html", []byte("<html/>"))
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.ToSlash(filepath.Join(dir, name)), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, "<html/>", string(got))
	})

	t.Run("existing object kept", func(t *testing.T) {
		t.Parallel()
		name := "scrapes/playwright/cd/cdef.png"
		_, err := store.PutObject(ctx, name, "image/png", []byte("first"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, name, "image/png", []byte("second"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, "first", string(got))
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "", "text/plain", []byte("data"))
		require.Error(t, err)
	})

	t.Run("traversal", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", []byte("data"))
		require.ErrorContains(t, err, "path traversal")
	})
}
