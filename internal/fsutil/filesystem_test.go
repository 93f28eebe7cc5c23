package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercise runs the same checks against every implementation.
func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	name := filepath.Join(root, "uploads", "a.csv")

	assert.False(t, fsys.Exists(name))
	require.NoError(t, fsys.WriteFile(name, []byte("date,x\n"), 0o644))
	require.NoError(t, fsys.WriteFile(filepath.Join(root, "exports", "b.json"), []byte("{}"), 0o644))
	assert.True(t, fsys.Exists(name))
	assert.True(t, fsys.Exists(filepath.Join(root, "uploads")))

	data, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "date,x\n", string(data))

	info, err := fsys.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())
	assert.False(t, info.IsDir())
	assert.Equal(t, "a.csv", info.Name())

	files, err := fsys.Files(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "exports", "b.json"), name}, files)

	files, err = fsys.Files(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	assert.Equal(t, []string{name}, files)

	require.NoError(t, fsys.Remove(name))
	assert.False(t, fsys.Exists(name))
	_, err = fsys.ReadFile(name)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = fsys.Stat(name)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, errors.Is(fsys.Remove(name), fs.ErrNotExist))
}

func TestOSFileSystem(t *testing.T) {
	exercise(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	exercise(t, NewMemoryFileSystem(), "/data")
}

func TestFilesMissingRoot(t *testing.T) {
	files, err := OSFileSystem{}.Files(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = NewMemoryFileSystem().Files("/nothing")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMemoryFileSystemCopiesData(t *testing.T) {
	m := NewMemoryFileSystem()
	buf := []byte("abc")
	require.NoError(t, m.WriteFile("/x", buf, 0o644))
	buf[0] = 'z'
	got, err := m.ReadFile("/x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'z'
	again, _ := m.ReadFile("/x")
	assert.Equal(t, "abc", string(again))
}
