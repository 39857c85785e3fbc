package runlog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pempem98/inventory-scanner/internal/runlog"

	"github.com/stretchr/testify/require"
)

func TestCreateUniqueWithinSameSecond(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)

	d1, err := runlog.Create(root, now)
	require.NoError(t, err)
	d2, err := runlog.Create(root, now)
	require.NoError(t, err)

	require.NotEqual(t, d1.Path(), d2.Path())
	require.Equal(t, "20260831-020000", d1.ID())
	require.True(t, len(d2.ID()) > len(d1.ID()))
	require.DirExists(t, d1.Path())
	require.DirExists(t, d2.Path())
}

func TestLogWriterAppends(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d, err := runlog.Create(root, time.Now())
	require.NoError(t, err)

	for _, chunk := range []string{"first run\n", "second run\n", "third run\n"} {
		w, err := d.LogWriter()
		require.NoError(t, err)
		_, err = w.WriteString(chunk)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	b, err := os.ReadFile(d.LogPath())
	require.NoError(t, err)
	require.Equal(t, "first run\nsecond run\nthird run\n", string(b))
}

func TestCollectArtifacts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	work := t.TempDir()
	d, err := runlog.Create(root, time.Now())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(work, "runtime.log"), []byte("task output"), 0o644))

	err = d.CollectArtifacts(work, "runtime.log", "missing.log")
	require.NoError(t, err)

	require.NoFileExists(t, filepath.Join(work, "runtime.log"))
	b, err := os.ReadFile(filepath.Join(d.Path(), "runtime.log"))
	require.NoError(t, err)
	require.Equal(t, "task output", string(b))
	require.NoFileExists(t, filepath.Join(d.Path(), "missing.log"))
}
