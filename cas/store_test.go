package cas

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/internal/fs"
)

// small chunks make every test read span several chunks
var testOpts = []Option{WithChunkSize(3)}

func createTestStore(t *testing.T, store blobstore.BlobStore, opts ...Option) *Store {
	t.Helper()
	st, err := Create(context.Background(), store, append(testOpts, opts...)...)
	require.NoError(t, err)
	return st
}

func TestCreateOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)

	d := testDense()
	sp := denseToCSR(t, d)
	cat := &Categorical{Categories: []string{"B", "T", "NK"}, Codes: []int32{0, 1, 1, 2, -1, 0}}

	b, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetAttrs("/", codec.Attrs{"encoding-type": "anndata"}))
	require.NoError(t, b.WriteArray(ctx, "/X", sp, CSR))
	require.NoError(t, b.WriteArray(ctx, "/layers/dense", d, EncodingNone))
	require.NoError(t, b.WriteArray(ctx, "/obs/n_counts", Int64s{1, 2, 3, 4, 5, 6}, EncodingNone))
	require.NoError(t, b.WriteArrayAttrs(ctx, "/obs/cell_type", cat, EncodingNone, codec.Attrs{"ordered": false}))
	require.NoError(t, b.WriteScalar(ctx, "/uns/version", "0.1"))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, st.Close())

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()

	root, err := ro.Attrs("/")
	require.NoError(t, err)
	assert.Equal(t, "anndata", root["encoding-type"])

	children, err := ro.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "layers", "obs", "uns"}, children)

	info, err := ro.Node("/X")
	require.NoError(t, err)
	want := NodeInfo{Path: "/X", Kind: KindSparse, DType: Float32, Shape: []int64{6, 5}, Encoding: CSR, Attrs: codec.Attrs{}}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("node info mismatch (-want +got):\n%s", diff)
	}

	x, err := ro.ReadAll(ctx, "/X")
	require.NoError(t, err)
	assert.Equal(t, d, x.(*Sparse).ToDense())

	dense, err := ro.ReadAll(ctx, "/layers/dense")
	require.NoError(t, err)
	assert.Equal(t, d, dense)

	counts, err := ro.ReadAll(ctx, "/obs/n_counts")
	require.NoError(t, err)
	assert.Equal(t, Int64s{1, 2, 3, 4, 5, 6}, counts)

	gotCat, err := ro.ReadCategorical(ctx, "/obs/cell_type", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, cat.Categories, gotCat.Categories)
	assert.Equal(t, cat.Codes, gotCat.Codes)

	catInfo, err := ro.Node("/obs/cell_type")
	require.NoError(t, err)
	assert.Equal(t, false, catInfo.Attrs["ordered"])

	ver, err := ro.ReadScalar(ctx, "/uns/version")
	require.NoError(t, err)
	assert.Equal(t, "0.1", ver.Value())

	part, err := ro.ReadArray(ctx, "/obs/n_counts", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, Int64s{3, 4, 5}, part)
}

func TestReadSliceSparseMatchesDense(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t, blobstore.NewMemoryStore())
	defer st.Close()

	d := testDense()
	sp := denseToCSR(t, d)
	require.NoError(t, st.WriteArray(ctx, "/csr", sp, CSR))
	require.NoError(t, st.WriteArray(ctx, "/csc", sp, CSC))
	require.NoError(t, st.WriteArray(ctx, "/dense", d, EncodingNone))

	for r0 := 0; r0 <= d.Rows; r0++ {
		for r1 := r0; r1 <= d.Rows; r1++ {
			for c0 := 0; c0 <= d.Cols; c0++ {
				for c1 := c0; c1 <= d.Cols; c1++ {
					want := d.Select(seq(r0, r1), seq(c0, c1))

					for _, p := range []string{"/csr", "/csc"} {
						m, err := st.ReadSlice(ctx, p, Span(r0, r1), Span(c0, c1))
						require.NoError(t, err)
						got := m.(*Sparse)
						require.NoError(t, got.Validate(), "%s rows [%d,%d) cols [%d,%d)", p, r0, r1, c0, c1)
						require.Equal(t, want, got.ToDense(), "%s rows [%d,%d) cols [%d,%d)", p, r0, r1, c0, c1)
					}

					m, err := st.ReadSlice(ctx, "/dense", Span(r0, r1), Span(c0, c1))
					require.NoError(t, err)
					require.Equal(t, want, m, "dense rows [%d,%d) cols [%d,%d)", r0, r1, c0, c1)
				}
			}
		}
	}
}

func TestReadSliceOutOfRange(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t, blobstore.NewMemoryStore())
	defer st.Close()
	require.NoError(t, st.WriteArray(ctx, "/X", denseToCSR(t, testDense()), CSR))

	_, err := st.ReadSlice(ctx, "/X", Span(0, 7), All())
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = st.ReadSlice(ctx, "/X", All(), Span(2, 6))
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, int64(5), oor.Len)

	_, err = st.ReadSlice(ctx, "/missing", All(), All())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTake(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t, blobstore.NewMemoryStore())
	defer st.Close()

	d := testDense()
	require.NoError(t, st.WriteArray(ctx, "/csr", denseToCSR(t, d), CSR))
	require.NoError(t, st.WriteArray(ctx, "/csc", denseToCSR(t, d), CSC))
	require.NoError(t, st.WriteArray(ctx, "/dense", d, EncodingNone))
	require.NoError(t, st.WriteArray(ctx, "/vec", Strings{"a", "b", "c", "d", "e", "f"}, EncodingNone))

	rows := []int{0, 2, 3, 5}
	cols := []int{1, 2, 4}
	want := d.Select(rows, cols)

	for _, p := range []string{"/csr", "/csc"} {
		got, err := st.Take(ctx, p, rows, cols)
		require.NoError(t, err)
		assert.Equal(t, want, got.(*Sparse).ToDense(), p)
	}
	got, err := st.Take(ctx, "/dense", rows, cols)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	vec, err := st.Take(ctx, "/vec", rows, nil)
	require.NoError(t, err)
	assert.Equal(t, Strings{"a", "c", "d", "f"}, vec)

	empty, err := st.Take(ctx, "/csr", []int{}, cols)
	require.NoError(t, err)
	r, c := empty.(Matrix).Shape()
	assert.Equal(t, 0, r)
	assert.Equal(t, 3, c)

	_, err = st.Take(ctx, "/dense", []int{3, 1}, nil)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCreateExisting(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	require.NoError(t, st.WriteArray(ctx, "/X", Float64s{1, 2}, EncodingNone))
	require.NoError(t, st.Close())

	_, err := Create(ctx, mem)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	st2, err := Create(ctx, mem, WithOverwrite())
	require.NoError(t, err)
	assert.False(t, st2.Exists("/X"))
	names, err := mem.List(ctx, blobPrefix)
	require.NoError(t, err)
	assert.NotEmpty(t, names, "replaced blobs live until the new container is published")
	require.NoError(t, st2.Close())

	names, err = mem.List(ctx, blobPrefix)
	require.NoError(t, err)
	assert.Empty(t, names, "overwritten blobs must be deleted")

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.False(t, ro.Exists("/X"))
}

func TestCreateNothingVisibleBeforeCommit(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)

	_, err := Open(ctx, mem, ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.WriteArray(ctx, "/X", Int32s{1, 2}, EncodingNone))
	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	assert.True(t, ro.Exists("/X"))
	require.NoError(t, ro.Close())
	require.NoError(t, st.Close())
}

func TestCreateCloseWithoutCommitPublishesEmpty(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	require.NoError(t, createTestStore(t, mem).Close())

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	children, err := ro.ListChildren("/")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh destination stays empty", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		st := createTestStore(t, mem)
		b, err := st.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, b.WriteArray(ctx, "/X", Int32s{1}, EncodingNone))
		b.Abort(ctx)
		require.NoError(t, st.Abandon(ctx))

		assert.Equal(t, 0, mem.Len())
		_, err = Open(ctx, mem, ReadOnly)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, st.Close(), ErrClosed)
	})

	t.Run("overwritten container survives", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		st := createTestStore(t, mem)
		require.NoError(t, st.WriteArray(ctx, "/X", Int64s{1, 2, 3}, EncodingNone))
		require.NoError(t, st.Close())

		st2, err := Create(ctx, mem, WithOverwrite())
		require.NoError(t, err)
		// Vacuum must not treat the replaced container's blobs as orphans.
		_, err = st2.Vacuum(ctx)
		require.NoError(t, err)
		require.NoError(t, st2.Abandon(ctx))

		ro, err := Open(ctx, mem, ReadOnly)
		require.NoError(t, err)
		defer ro.Close()
		x, err := ro.ReadArray(ctx, "/X", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, Int64s{1, 2, 3}, x)
	})

	t.Run("committed handle closes normally", func(t *testing.T) {
		mem := blobstore.NewMemoryStore()
		st := createTestStore(t, mem)
		require.NoError(t, st.WriteArray(ctx, "/X", Int32s{1}, EncodingNone))
		require.NoError(t, st.Abandon(ctx))

		ro, err := Open(ctx, mem, ReadOnly)
		require.NoError(t, err)
		defer ro.Close()
		assert.True(t, ro.Exists("/X"))
	})
}

// crashStore fails every component write and every delete, like a process
// that dies before it can clean up.
type crashStore struct {
	*blobstore.MemoryStore
}

func (c crashStore) Put(ctx context.Context, name string, data []byte) error {
	if strings.HasPrefix(name, blobPrefix) {
		return errCrash
	}
	return c.MemoryStore.Put(ctx, name, data)
}

func (c crashStore) Delete(context.Context, string) error { return errCrash }

var errCrash = errors.New("crashed")

func TestCrashDuringCreateLeavesNoContainer(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, crashStore{mem})

	err := st.WriteArray(ctx, "/X", Int32s{1, 2}, EncodingNone)
	require.ErrorIs(t, err, errCrash)
	// no Close: the process is gone

	names, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"LOCK"}, names)

	_, err = Open(ctx, mem, ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Create(ctx, mem)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, BreakLock(ctx, mem))
	st2, err := Create(ctx, mem)
	require.NoError(t, err)
	require.NoError(t, st2.WriteArray(ctx, "/X", Int32s{3}, EncodingNone))
	require.NoError(t, st2.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), blobstore.NewMemoryStore(), ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteErrors(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)

	require.NoError(t, st.WriteArray(ctx, "/a/b", Int32s{1}, EncodingNone))
	assert.ErrorIs(t, st.WriteArray(ctx, "/a/b", Int32s{2}, EncodingNone), ErrDuplicateName)
	assert.ErrorIs(t, st.WriteArray(ctx, "/a/b/c", Int32s{2}, EncodingNone), ErrNotGroup)
	assert.ErrorIs(t, st.CreateGroup(ctx, "/a", nil), ErrDuplicateName)
	assert.ErrorIs(t, st.WriteArray(ctx, "/bad", &Dense{Rows: 2, Cols: 2, Data: Int32s{1}}, EncodingNone), ErrLengthMismatch)
	assert.ErrorIs(t, st.SetAttrs(ctx, "/nope", codec.Attrs{"a": 1}), ErrNotFound)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Close(), ErrClosed)

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.ErrorIs(t, ro.WriteArray(ctx, "/c", Int32s{1}, EncodingNone), ErrReadOnly)
	assert.ErrorIs(t, ro.Delete(ctx, "/a"), ErrReadOnly)
	_, err = ro.Vacuum(ctx)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestDeleteRemovesDescendants(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	defer st.Close()

	require.NoError(t, st.WriteArray(ctx, "/obsm/X_pca", &Dense{Rows: 2, Cols: 2, Data: Float32s{1, 2, 3, 4}}, EncodingNone))
	require.NoError(t, st.WriteArray(ctx, "/obsm/X_umap", &Dense{Rows: 2, Cols: 2, Data: Float32s{1, 2, 3, 4}}, EncodingNone))
	require.NoError(t, st.WriteArray(ctx, "/obsmeta", Int32s{1, 2}, EncodingNone))

	keys, err := st.ListChildren("/obsm")
	require.NoError(t, err)
	assert.Equal(t, []string{"X_pca", "X_umap"}, keys)

	require.NoError(t, st.Delete(ctx, "/obsm"))
	assert.False(t, st.Exists("/obsm/X_pca"))
	assert.True(t, st.Exists("/obsmeta"), "sibling with a common prefix must survive")
	assert.ErrorIs(t, st.Delete(ctx, "/obsm"), ErrNotFound)

	names, err := mem.List(ctx, blobPrefix)
	require.NoError(t, err)
	assert.Len(t, names, 1, "blobs of deleted nodes are removed after commit")
}

func TestLocking(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	rw := createTestStore(t, mem)
	require.NoError(t, rw.WriteArray(ctx, "/X", Int32s{1}, EncodingNone))

	_, err := Open(ctx, mem, ReadWrite)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	require.NoError(t, ro.Close())

	require.NoError(t, rw.Close())
	rw2, err := Open(ctx, mem, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, rw2.Close())
}

func TestBreakLock(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	require.NoError(t, st.WriteArray(ctx, "/X", Int32s{1}, EncodingNone))
	// st is never closed: a crashed writer

	_, err := Open(ctx, mem, ReadWrite)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, BreakLock(ctx, mem))
	rw, err := Open(ctx, mem, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, rw.Close())
}

func TestBatchAbort(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	defer st.Close()

	b, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.WriteArray(ctx, "/X", Float32s{1, 2, 3, 4}, EncodingNone))
	assert.True(t, b.Exists("/X"))
	assert.False(t, st.Exists("/X"), "staged nodes are invisible before commit")
	b.Abort(ctx)

	assert.False(t, st.Exists("/X"))
	names, err := mem.List(ctx, blobPrefix)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.ErrorIs(t, b.Commit(ctx), ErrClosed)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	rw := createTestStore(t, mem)
	defer rw.Close()
	require.NoError(t, rw.WriteArray(ctx, "/Y", Int32s{1}, EncodingNone))

	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()

	require.NoError(t, rw.WriteArray(ctx, "/X", Int32s{7}, EncodingNone))
	assert.False(t, ro.Exists("/X"))
	require.NoError(t, ro.Refresh(ctx))
	assert.True(t, ro.Exists("/X"))
	assert.Equal(t, rw.Version(), ro.Version())
}

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	require.NoError(t, st.WriteArray(ctx, "/X", denseToCSR(t, testDense()), CSR))
	require.NoError(t, st.Close())

	im, err := Open(ctx, mem, ReadOnly, WithInMemory())
	require.NoError(t, err)
	defer im.Close()

	// the backend may vanish once everything is in memory
	names, err := mem.List(ctx, blobPrefix)
	require.NoError(t, err)
	for _, n := range names {
		require.NoError(t, mem.Delete(ctx, n))
	}
	x, err := im.ReadSlice(ctx, "/X", Span(2, 5), All())
	require.NoError(t, err)
	assert.Equal(t, testDense().Select([]int{2, 3, 4}, nil), x.(*Sparse).ToDense())
}

func TestCorruptionDetectedAtOpen(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*blobstore.MemoryStore, string) {
		mem := blobstore.NewMemoryStore()
		st := createTestStore(t, mem)
		require.NoError(t, st.WriteArray(ctx, "/v", Float64s{1, 2, 3, 4, 5, 6, 7}, EncodingNone))
		require.NoError(t, st.Close())
		names, err := mem.List(ctx, blobPrefix)
		require.NoError(t, err)
		require.Len(t, names, 1)
		return mem, names[0]
	}

	t.Run("header", func(t *testing.T) {
		mem, name := setup(t)
		data, err := blobstore.ReadAll(ctx, mem, name)
		require.NoError(t, err)
		data[16] ^= 0xFF
		require.NoError(t, mem.Put(ctx, name, data))

		_, err = Open(ctx, mem, ReadOnly)
		assert.ErrorIs(t, err, ErrCorruptFormat)
	})

	t.Run("truncated", func(t *testing.T) {
		mem, name := setup(t)
		data, err := blobstore.ReadAll(ctx, mem, name)
		require.NoError(t, err)
		require.NoError(t, mem.Put(ctx, name, data[:len(data)-3]))

		_, err = Open(ctx, mem, ReadOnly)
		assert.ErrorIs(t, err, ErrCorruptFormat)
	})

	t.Run("missing blob", func(t *testing.T) {
		mem, name := setup(t)
		require.NoError(t, mem.Delete(ctx, name))

		_, err := Open(ctx, mem, ReadOnly)
		assert.ErrorIs(t, err, ErrCorruptFormat)
	})

	t.Run("payload", func(t *testing.T) {
		mem, name := setup(t)
		data, err := blobstore.ReadAll(ctx, mem, name)
		require.NoError(t, err)
		data[len(data)-1] ^= 0xFF
		require.NoError(t, mem.Put(ctx, name, data))

		// payload checksums are verified when a chunk is read
		st, err := Open(ctx, mem, ReadOnly)
		require.NoError(t, err)
		defer st.Close()
		_, err = st.ReadArray(ctx, "/v", 0, -1)
		assert.ErrorIs(t, err, ErrCorruptFormat)
	})

	t.Run("manifest", func(t *testing.T) {
		mem, _ := setup(t)
		require.NoError(t, mem.Put(ctx, "CURRENT", []byte("garbage")))

		_, err := Open(ctx, mem, ReadOnly)
		assert.ErrorIs(t, err, ErrCorruptFormat)
	})
}

func TestCrashBeforePublishLeavesNoNode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	local := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))

	st := createTestStore(t, local)
	require.NoError(t, st.WriteArray(ctx, "/X", Int64s{1, 2, 3}, EncodingNone))

	// the manifest write fails after the component blobs are on disk
	ffs.AddRule("MANIFEST-", fs.Fault{FailAfterBytes: 10})
	err := st.WriteArray(ctx, "/layers/counts", Int64s{4, 5, 6}, EncodingNone)
	require.ErrorIs(t, err, fs.ErrInjected)
	ffs.ClearRules()

	assert.False(t, st.Exists("/layers/counts"))
	require.NoError(t, st.Close())

	ro, err := Open(ctx, blobstore.NewLocalStore(dir), ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.False(t, ro.Exists("/layers/counts"))
	assert.False(t, ro.Exists("/layers"))
	x, err := ro.ReadArray(ctx, "/X", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, Int64s{1, 2, 3}, x)
}

func TestVacuum(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	defer st.Close()

	require.NoError(t, st.WriteArray(ctx, "/X", Int64s{1, 2, 3}, EncodingNone))
	require.NoError(t, st.WriteArray(ctx, "/Y", Int64s{4}, EncodingNone))
	// a writer that crashed between blob write and commit
	require.NoError(t, mem.Put(ctx, blobPrefix+"orphan.data", []byte("partial")))

	removed, err := st.Vacuum(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "one orphan blob and one old manifest")

	names, err := mem.List(ctx, "")
	require.NoError(t, err)
	var manifests int
	for _, n := range names {
		if strings.HasPrefix(n, "MANIFEST-") {
			manifests++
		}
	}
	assert.Equal(t, 1, manifests)

	st.Close()
	ro, err := Open(ctx, mem, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.Exists("/X"))
	assert.True(t, ro.Exists("/Y"))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st := createTestStore(t, mem)
	require.NoError(t, st.WriteArray(ctx, "/X", Int64s{1, 2, 3}, EncodingNone))

	require.NoError(t, st.Destroy(ctx))
	assert.Equal(t, 0, mem.Len(), "no blob, manifest or lock survives")
	assert.ErrorIs(t, st.Close(), ErrClosed)

	_, err := Open(ctx, mem, ReadOnly)
	assert.ErrorIs(t, err, ErrNotFound)
}
