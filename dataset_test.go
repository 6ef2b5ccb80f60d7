package anndata

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
	"github.com/hupe1980/anndata/resource"
)

// makeContainer builds an in-memory container with the given obs and var names
// and X; x may be nil.
func makeContainer(t *testing.T, obs, vars []string, x cas.Matrix) *AnnData {
	t.Helper()
	return makeContainerOn(t, blobstore.NewMemoryStore(), obs, vars, x)
}

func makeContainerOn(t *testing.T, store blobstore.BlobStore, obs, vars []string, x cas.Matrix) *AnnData {
	t.Helper()
	ctx := context.Background()
	ad, err := Create(ctx, store, len(obs), len(vars), testStoreOpts)
	require.NoError(t, err)
	require.NoError(t, ad.SetObs(ctx, mustFrame(t, obs...)))
	require.NoError(t, ad.SetVar(ctx, mustFrame(t, vars...)))
	if x != nil {
		require.NoError(t, ad.SetX(ctx, x, cas.CSR))
	}
	t.Cleanup(func() { _ = ad.Close() })
	return ad
}

func dense(t *testing.T, rows, cols int, data ...float32) *cas.Dense {
	t.Helper()
	d, err := cas.NewDense(rows, cols, cas.Float32s(data))
	require.NoError(t, err)
	return d
}

func TestDataSetRows(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0", "a1", "a2"}, []string{"g0", "g1"}, dense(t, 3, 2, 1, 2, 3, 4, 5, 6))
	b := makeContainer(t, []string{"b0", "b1"}, []string{"g0", "g1"}, dense(t, 2, 2, 7, 8, 9, 10))

	ds, err := NewDataSet(ctx, []*AnnData{a, b}, WithKeys("A", "B"))
	require.NoError(t, err)
	defer ds.Close()

	n, err := ds.RowCount()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	m, err := ds.ColCount()
	require.NoError(t, err)
	assert.Equal(t, 2, m)

	// Rows 2..3 span both containers.
	got, err := ds.GetRows(ctx, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 2, 2, 5, 6, 7, 8), got)

	key, local, err := ds.Locate(3)
	require.NoError(t, err)
	assert.Equal(t, "B", key)
	assert.Equal(t, 0, local)

	key, local, err = ds.Locate(2)
	require.NoError(t, err)
	assert.Equal(t, "A", key)
	assert.Equal(t, 2, local)

	_, _, err = ds.Locate(5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = ds.GetRows(ctx, 4, 6)
	assert.ErrorIs(t, err, ErrOutOfRange)

	empty, err := ds.GetRows(ctx, 1, 1)
	require.NoError(t, err)
	r, c := empty.Shape()
	assert.Equal(t, [2]int{0, 2}, [2]int{r, c})
}

func TestDataSetGetRowsEveryRange(t *testing.T) {
	ctx := context.Background()
	sizes := []int{2, 1, 3, 1, 2}
	var members []*AnnData
	var all []float32
	row := 0
	for i, n := range sizes {
		var data []float32
		obs := make([]string, n)
		for j := range n {
			data = append(data, float32(2*row), float32(2*row+1))
			obs[j] = fmt.Sprintf("c%d_%d", i, j)
			row++
		}
		all = append(all, data...)
		members = append(members, makeContainer(t, obs, []string{"g0", "g1"}, dense(t, n, 2, data...)))
	}
	ds, err := NewDataSet(ctx, members)
	require.NoError(t, err)
	defer ds.Close()

	for lo := 0; lo < row; lo++ {
		for hi := lo + 1; hi <= row; hi++ {
			got, err := ds.GetRows(ctx, lo, hi)
			require.NoError(t, err, "rows %d..%d", lo, hi)
			assert.Equal(t, dense(t, hi-lo, 2, all[2*lo:2*hi]...), got, "rows %d..%d", lo, hi)
		}
	}

	// members outside the range are not touched
	require.NoError(t, members[0].Close())
	require.NoError(t, members[4].Close())
	got, err := ds.GetRows(ctx, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 3, 2, all[6:12]...), got)
}

func TestDataSetBoundedFanOut(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MaxWorkers: 1})
	var parts []*AnnData
	for i := range 4 {
		v := float32(i)
		parts = append(parts, makeContainer(t, []string{"r" + string(rune('a'+i))}, []string{"g"}, dense(t, 1, 1, v)))
	}
	ds, err := NewDataSet(ctx, parts, WithResourceController(rc), WithLabelColumn(""))
	require.NoError(t, err)
	defer ds.Close()

	got, err := ds.GetRows(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 4, 1, 0, 1, 2, 3), got)
}

func TestDataSetInnerJoinRejectsDifferentVars(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0"}, []string{"g0", "g1"}, nil)
	b := makeContainer(t, []string{"b0"}, []string{"g2"}, nil)

	_, err := NewDataSet(ctx, []*AnnData{a, b})
	require.ErrorIs(t, err, ErrIncompatibleSchema)
	var se *SchemaError
	assert.ErrorAs(t, err, &se)
}

func TestDataSetUnionJoin(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0", "a1"}, []string{"g0", "g1"}, dense(t, 2, 2, 1, 2, 3, 4))
	b := makeContainer(t, []string{"b0"}, []string{"g2", "g0"}, dense(t, 1, 2, 5, 6))

	ds, err := NewDataSet(ctx, []*AnnData{a, b}, WithJoin(JoinUnion))
	require.NoError(t, err)
	defer ds.Close()

	names, err := ds.VarNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"g0", "g1", "g2"}, names)

	got, err := ds.GetRows(ctx, 0, 3)
	require.NoError(t, err)
	d := got.(*cas.Dense)
	require.Equal(t, 3, d.Cols)
	data := d.Data.(cas.Float32s)
	assert.Equal(t, float32(1), data[0])
	assert.Equal(t, float32(2), data[1])
	assert.True(t, math.IsNaN(float64(data[2])))
	assert.Equal(t, float32(6), data[6])
	assert.True(t, math.IsNaN(float64(data[7])))
	assert.Equal(t, float32(5), data[8])
}

func TestDataSetUnionJoinSparse(t *testing.T) {
	ctx := context.Background()
	xa, err := cas.CSRFromTriples(1, 2, []int64{0}, []int64{1}, cas.Float32s{3})
	require.NoError(t, err)
	xb, err := cas.CSRFromTriples(1, 1, []int64{0}, []int64{0}, cas.Float32s{4})
	require.NoError(t, err)
	a := makeContainer(t, []string{"a0"}, []string{"g0", "g1"}, xa)
	b := makeContainer(t, []string{"b0"}, []string{"g2"}, xb)

	ds, err := NewDataSet(ctx, []*AnnData{a, b}, WithJoin(JoinUnion))
	require.NoError(t, err)
	defer ds.Close()

	got, err := ds.GetRows(ctx, 0, 2)
	require.NoError(t, err)
	s, ok := got.(*cas.Sparse)
	require.True(t, ok)
	assert.Equal(t, 2, s.NNZ())
	assert.Equal(t, dense(t, 2, 3, 0, 3, 0, 0, 0, 4), s.ToDense())
}

func TestDataSetIntersectionJoin(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0"}, []string{"g0", "g1", "g2"}, dense(t, 1, 3, 1, 2, 3))
	b := makeContainer(t, []string{"b0"}, []string{"g2", "g0"}, dense(t, 1, 2, 4, 5))

	ds, err := NewDataSet(ctx, []*AnnData{a, b}, WithJoin(JoinIntersection))
	require.NoError(t, err)
	defer ds.Close()

	names, err := ds.VarNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"g0", "g2"}, names)

	got, err := ds.GetRows(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 2, 2, 1, 3, 5, 4), got)
}

func TestDataSetMembership(t *testing.T) {
	ctx := context.Background()
	vars := []string{"g0"}
	a := makeContainer(t, []string{"a0"}, vars, dense(t, 1, 1, 1))
	b := makeContainer(t, []string{"b0", "b1"}, vars, dense(t, 2, 1, 2, 3))
	c := makeContainer(t, []string{"c0"}, []string{"other"}, dense(t, 1, 1, 4))

	ds, err := NewDataSet(ctx, []*AnnData{a}, WithKeys("a"))
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.AddContainer(ctx, "b", b))
	n, err := ds.RowCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.ErrorIs(t, ds.AddContainer(ctx, "b", b), ErrDuplicateName)
	assert.ErrorIs(t, ds.AddContainer(ctx, "c", c), ErrIncompatibleSchema)

	keys, err := ds.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, ds.RemoveContainer("a"))
	assert.ErrorIs(t, ds.RemoveContainer("a"), ErrNotFound)

	got, err := ds.GetRows(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 2, 1, 2, 3), got)
}

func TestDataSetObs(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"x", "y"}, []string{"g0"}, nil)
	b := makeContainer(t, []string{"x"}, []string{"g0"}, nil)

	ds, err := NewDataSet(ctx, []*AnnData{a, b}, WithKeys("A", "B"), WithIndexSeparator("-"))
	require.NoError(t, err)
	defer ds.Close()

	obs, err := ds.Obs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x-A", "y-A", "x-B"}, obs.Index())
	col, err := obs.Column(DefaultLabelColumn)
	require.NoError(t, err)
	cat := col.(*frame.Categorical)
	assert.Equal(t, []string{"A", "A", "B"}, cat.Values())
	assert.Equal(t, []string{"A", "B"}, cat.Categories())
}

func TestDataSetObsDefaultContainers(t *testing.T) {
	ctx := context.Background()
	a, err := Create(ctx, blobstore.NewMemoryStore(), 3, 2)
	require.NoError(t, err)
	defer a.Close()
	b, err := Create(ctx, blobstore.NewMemoryStore(), 2, 2)
	require.NoError(t, err)
	defer b.Close()

	ds, err := NewDataSet(ctx, []*AnnData{a, b})
	require.NoError(t, err)
	defer ds.Close()
	n, err := ds.RowCount()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	obs, err := ds.Obs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0-0", "1-0", "2-0", "0-1", "1-1"}, obs.Index())
}

func TestDataSetClose(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0"}, []string{"g0"}, dense(t, 1, 1, 1))

	ds, err := NewDataSet(ctx, []*AnnData{a})
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Close(), ErrClosed)
	_, err = ds.GetRows(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)

	// The caller still owns the container.
	_, err = a.X()
	assert.NoError(t, err)
}

func TestDataSetMemberClosed(t *testing.T) {
	ctx := context.Background()
	a := makeContainer(t, []string{"a0"}, []string{"g0"}, dense(t, 1, 1, 1))
	ds, err := NewDataSet(ctx, []*AnnData{a})
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, a.Close())
	_, err = ds.GetRows(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadDataset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var paths []string
	for i, name := range []string{"one", "two"} {
		p := filepath.Join(dir, name)
		ad, err := Create(ctx, blobstore.NewLocalStore(p), 1, 1, testStoreOpts)
		require.NoError(t, err)
		require.NoError(t, ad.SetObs(ctx, mustFrame(t, name)))
		require.NoError(t, ad.SetX(ctx, dense(t, 1, 1, float32(i)), cas.EncodingNone))
		require.NoError(t, ad.Close())
		paths = append(paths, p)
	}

	ds, err := ReadDataset(ctx, paths)
	require.NoError(t, err)
	got, err := ds.GetRows(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, dense(t, 2, 1, 0, 1), got)
	require.NoError(t, ds.Close())

	_, err = ReadDataset(ctx, []string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, ErrNotFound)
}
