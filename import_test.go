package anndata

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/adapter/mtx"
	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
)

// staticAdapter yields a fixed list of entries and then err, if set.
type staticAdapter struct {
	entries []adapter.Entry
	err     error
}

func (staticAdapter) Name() string { return "static" }

func (s staticAdapter) Parse(context.Context, string) iter.Seq2[adapter.Entry, error] {
	return func(yield func(adapter.Entry, error) bool) {
		for _, e := range s.entries {
			if !yield(e, nil) {
				return
			}
		}
		if s.err != nil {
			yield(adapter.Entry{}, s.err)
		}
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	obs := mustFrame(t, "c0", "c1", "c2", "c3")
	src := staticAdapter{entries: []adapter.Entry{
		{Path: "X", Value: testX(t)},
		{Path: "/obs", Value: obs},
		{Path: "/obsm/qc", Value: []float64{1, 2, 3, 4}},
		{Path: "/uns/params/min_genes", Value: int64(200)},
	}}

	ad, err := Import(ctx, blobstore.NewMemoryStore(), src, "in-memory", testStoreOpts)
	require.NoError(t, err)
	defer ad.Close()

	n, m := ad.Shape()
	assert.Equal(t, [2]int{4, 3}, [2]int{n, m})

	// var defaults to a positional index.
	vr, err := ad.Var()
	require.NoError(t, err)
	idx, err := vr.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, idx)

	e, err := ad.Uns("params/min_genes")
	require.NoError(t, err)
	v, err := e.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v.(cas.Scalar).Value())

	keys, err := ad.ObsmKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"qc"}, keys)
}

func TestImportValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	injected := errors.New("truncated input")

	tests := []struct {
		name    string
		entries []adapter.Entry
		err     error
		target  error
	}{
		{
			name: "obs length",
			entries: []adapter.Entry{
				{Path: "/X", Value: testX(t)},
				{Path: "/obs", Value: mustFrame(t, "a")},
			},
			target: ErrLengthMismatch,
		},
		{
			name: "duplicate path",
			entries: []adapter.Entry{
				{Path: "/X", Value: testX(t)},
				{Path: "X", Value: testX(t)},
			},
			target: ErrDuplicateName,
		},
		{
			name:    "unknown path",
			entries: []adapter.Entry{{Path: "/raw/X", Value: testX(t)}},
			target:  ErrTypeMismatch,
		},
		{
			name:    "nested obsm",
			entries: []adapter.Entry{{Path: "/obsm/a/b", Value: []int32{1}}},
			target:  ErrTypeMismatch,
		},
		{
			name:    "nothing to size",
			entries: []adapter.Entry{{Path: "/uns/x", Value: "y"}},
			target:  ErrNotFound,
		},
		{
			name:    "parse error",
			entries: []adapter.Entry{{Path: "/X", Value: testX(t)}},
			err:     injected,
			target:  injected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := blobstore.NewMemoryStore()
			_, err := Import(ctx, dst, staticAdapter{entries: tt.entries, err: tt.err}, "src")
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, 0, dst.Len())
		})
	}
}

func TestImportMatrixMarket(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "matrix.mtx")
	body := "%%MatrixMarket matrix coordinate integer general\n" +
		"3 2 3\n" +
		"1 1 5\n" +
		"3 1 1\n" +
		"2 2 7\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	// Features are rows on disk; transpose to cells x genes.
	ad, err := Import(ctx, blobstore.NewMemoryStore(), mtx.New(mtx.WithTranspose()), path)
	require.NoError(t, err)
	defer ad.Close()

	n, m := ad.Shape()
	assert.Equal(t, [2]int{2, 3}, [2]int{n, m})

	xh, err := ad.X()
	require.NoError(t, err)
	x, err := xh.Read(ctx)
	require.NoError(t, err)
	want, err := cas.NewDense(2, 3, cas.Int32s{5, 0, 1, 0, 7, 0})
	require.NoError(t, err)
	assert.Equal(t, want, x.(*cas.Sparse).ToDense())
}
