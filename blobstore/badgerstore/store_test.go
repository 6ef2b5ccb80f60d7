package badgerstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/blobstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, WithPartSize(16))
}

func TestStore_PutOpenReadAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz") // spans three parts
	require.NoError(t, s.Put(ctx, "data/x.chunk", data))

	b, err := s.Open(ctx, "data/x.chunk")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(len(data)), b.Size())

	buf := make([]byte, 10)
	n, err := b.ReadAt(ctx, buf, 12)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data[12:22], buf)

	n, err = b.ReadAt(ctx, buf, 30)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, data[30:], buf[:n])

	rc, err := b.ReadRange(ctx, 5, 20)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data[5:25], got)
}

func TestStore_ReplaceListDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "CURRENT", []byte("MANIFEST-000001")))
	require.NoError(t, s.Put(ctx, "CURRENT", []byte("MANIFEST-000002")))
	require.NoError(t, s.Put(ctx, "data/a", bytes.Repeat([]byte{1}, 40)))

	got, err := blobstore.ReadAll(ctx, s, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002", string(got))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "data/a"}, names)

	names, err = s.List(ctx, "data/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a"}, names)

	require.NoError(t, s.Delete(ctx, "data/a"))
	require.NoError(t, s.Delete(ctx, "data/a"))
	_, err = s.Open(ctx, "data/a")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutIfAbsent(ctx, "LOCK", []byte("owner-a")))
	assert.ErrorIs(t, s.PutIfAbsent(ctx, "LOCK", []byte("owner-b")), blobstore.ErrExists)

	got, err := blobstore.ReadAll(ctx, s, "LOCK")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", string(got))
}

func TestStore_CreateWriter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.Create(ctx, "streamed")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	_, err = s.Open(ctx, "streamed")
	assert.ErrorIs(t, err, blobstore.ErrNotFound, "not visible before Close")

	require.NoError(t, w.Close())
	got, err := blobstore.ReadAll(ctx, s, "streamed")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}
