package workspace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_CleanupMediaPackage(t *testing.T) {
	root := t.TempDir()

	ws, err := New(slog.Default(), root)
	require.NoError(t, err)

	dir, err := ws.Path("mp-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tracks"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracks", "a.mp4"), []byte("x"), 0o600))

	require.NoError(t, ws.CleanupMediaPackage(context.Background(), "mp-1"))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ws.CleanupMediaPackage(context.Background(), "mp-1"))
}

func TestWorkspace_RejectsEscapingIDs(t *testing.T) {
	ws, err := New(slog.Default(), t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../etc", `a\b`} {
		require.ErrorIs(t, ws.CleanupMediaPackage(context.Background(), id), ErrInvalidMediaPackageID, id)
	}
}
