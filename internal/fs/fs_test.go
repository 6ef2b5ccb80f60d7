package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "data")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "a.tmp")
	f, err := lfs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	require.NoError(t, lfs.Rename(path, filepath.Join(dir, "a")))
	require.NoError(t, SyncDir(lfs, dir))

	info, err := lfs.Stat(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, lfs.Remove(filepath.Join(dir, "a")))
	_, err = lfs.Stat(filepath.Join(dir, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("limited", Fault{FailAfterBytes: 5})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "limited.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFaultyFS_SyncCloseRename(t *testing.T) {
	boom := errors.New("boom")
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, FailOnSync: true, Err: boom})
	ffs.AddRule("close", Fault{FailAfterBytes: -1, FailOnClose: true})
	ffs.AddRule("CURRENT", Fault{FailAfterBytes: -1, FailOnRename: true})

	f, err := ffs.OpenFile(filepath.Join(tmp, "sync"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), boom)
	require.NoError(t, f.Close())

	f, err = ffs.OpenFile(filepath.Join(tmp, "close"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Close(), ErrInjected)

	src := filepath.Join(tmp, "CURRENT.tmp")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	assert.ErrorIs(t, ffs.Rename(src, filepath.Join(tmp, "CURRENT")), ErrInjected)
	_, err = os.Stat(filepath.Join(tmp, "CURRENT"))
	assert.True(t, os.IsNotExist(err))

	ffs.ClearRules()
	require.NoError(t, ffs.Rename(src, filepath.Join(tmp, "CURRENT")))
}
