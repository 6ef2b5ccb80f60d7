package frame

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
)

func writeTestTable(t *testing.T) (*cas.Store, blobstore.BlobStore) {
	t.Helper()
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	st, err := cas.Create(ctx, mem, cas.WithChunkSize(2))
	require.NoError(t, err)

	b, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(ctx, b, "/obs", testFrame(t)))
	require.NoError(t, b.Commit(ctx))
	return st, mem
}

func TestTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, mem := writeTestTable(t)
	require.NoError(t, st.Close())

	ro, err := cas.Open(ctx, mem, cas.ReadOnly)
	require.NoError(t, err)
	defer ro.Close()

	tbl, err := OpenTable(ro, "/obs")
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())

	names, err := tbl.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"n_genes", "barcode", "cell_type"}, names)

	index, err := tbl.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1", "c2", "c3"}, index)

	got, err := tbl.Load(ctx)
	require.NoError(t, err)
	want := testFrame(t)
	for _, name := range want.Names() {
		wc, _ := want.Column(name)
		gc, err := got.Column(name)
		require.NoError(t, err)
		switch w := wc.(type) {
		case *Numeric:
			assert.Equal(t, w.Data, gc.(*Numeric).Data, name)
		case *String:
			assert.Equal(t, w.Values, gc.(*String).Values, name)
		case *Categorical:
			assert.Equal(t, w.Categories(), gc.(*Categorical).Categories(), name)
			assert.Equal(t, w.Codes(), gc.(*Categorical).Codes(), name)
		}
	}

	assert.ErrorIs(t, tbl.AppendColumn(ctx, "x", []int32{1, 2, 3, 4}), cas.ErrReadOnly)
}

func TestColumnHandle(t *testing.T) {
	ctx := context.Background()
	st, _ := writeTestTable(t)
	defer st.Close()

	tbl, err := OpenTable(st, "/obs")
	require.NoError(t, err)

	_, err = tbl.Column("nope")
	assert.ErrorIs(t, err, cas.ErrNoSuchColumn)

	h, err := tbl.Column("cell_type")
	require.NoError(t, err)
	assert.Equal(t, KindCategorical, h.Kind())
	assert.Equal(t, 4, h.Len())

	part, err := h.ReadRange(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"T", "B"}, part.(*Categorical).Values())

	h, err = tbl.Column("barcode")
	require.NoError(t, err)
	assert.Equal(t, KindString, h.Kind())
	sel, err := h.Take(ctx, []int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "TTT"}, sel.(*String).Values)

	_, err = h.ReadRange(ctx, 2, 9)
	assert.ErrorIs(t, err, cas.ErrOutOfRange)
}

func TestTableAppendAndDropColumn(t *testing.T) {
	ctx := context.Background()
	st, _ := writeTestTable(t)
	defer st.Close()

	tbl, err := OpenTable(st, "/obs")
	require.NoError(t, err)

	require.NoError(t, tbl.AppendColumn(ctx, "pct_mito", []float32{0.1, 0.2, 0.3, 0.4}))
	names, _ := tbl.Names()
	assert.Equal(t, []string{"n_genes", "barcode", "cell_type", "pct_mito"}, names)

	err = tbl.AppendColumn(ctx, "bad", []float32{1})
	assert.ErrorIs(t, err, cas.ErrLengthMismatch)
	assert.False(t, st.Exists("/obs/bad"))

	assert.ErrorIs(t, tbl.AppendColumn(ctx, "barcode", []string{"a", "b", "c", "d"}), cas.ErrDuplicateName)

	require.NoError(t, tbl.DropColumn(ctx, "barcode"))
	names, _ = tbl.Names()
	assert.Equal(t, []string{"n_genes", "cell_type", "pct_mito"}, names)
	assert.False(t, st.Exists("/obs/barcode"))
	assert.ErrorIs(t, tbl.DropColumn(ctx, "barcode"), cas.ErrNoSuchColumn)
}

func TestTableSubset(t *testing.T) {
	ctx := context.Background()
	st, _ := writeTestTable(t)
	defer st.Close()

	tbl, err := OpenTable(st, "/obs")
	require.NoError(t, err)

	sub, err := tbl.Subset(ctx, roaring.BitmapOf(0, 2, 3))
	require.NoError(t, err)
	want, err := testFrame(t).Subset(roaring.BitmapOf(0, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, want.Index(), sub.Index())

	n, _ := sub.Column("n_genes")
	assert.Equal(t, cas.Int64s{10, 30, 40}, n.(*Numeric).Data)
	ct, _ := sub.Column("cell_type")
	assert.Equal(t, []string{"B", "B", "NK"}, ct.(*Categorical).Values())
}

func TestOpenTableRejectsBrokenLayout(t *testing.T) {
	ctx := context.Background()
	st, _ := writeTestTable(t)
	defer st.Close()

	require.NoError(t, st.WriteArray(ctx, "/plain", cas.Int32s{1}, cas.EncodingNone))
	_, err := OpenTable(st, "/plain")
	assert.ErrorIs(t, err, cas.ErrTypeMismatch)

	_, err = OpenTable(st, "/none")
	assert.ErrorIs(t, err, cas.ErrNotFound)

	require.NoError(t, st.Delete(ctx, "/obs/n_genes"))
	_, err = OpenTable(st, "/obs")
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
}
