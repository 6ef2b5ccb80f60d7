package integration_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/adapter/tenx"
	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
	"github.com/hupe1980/anndata/testutil"
)

// writeTenx writes a random Cell Ranger style directory.
func writeTenx(t *testing.T, dir string, rng *testutil.RNG, cells, genes int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// Features are rows on disk.
	x := rng.Counts(genes, cells, 0.3)
	var mtx strings.Builder
	fmt.Fprintf(&mtx, "%%%%MatrixMarket matrix coordinate integer general\n%d %d %d\n", genes, cells, x.NNZ())
	data := x.Data.(cas.Float32s)
	for r := 0; r < genes; r++ {
		for k := x.Indptr[r]; k < x.Indptr[r+1]; k++ {
			fmt.Fprintf(&mtx, "%d %d %d\n", r+1, x.Indices[k]+1, int(data[k]))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx.String()), 0o600))

	var barcodes, features strings.Builder
	for _, b := range testutil.Names(filepath.Base(dir)+"-AAAC", cells) {
		fmt.Fprintln(&barcodes, b)
	}
	for i, g := range testutil.Names("GENE", genes) {
		fmt.Fprintf(&features, "ENSG%05d\t%s\tGene Expression\n", i, g)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte(barcodes.String()), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.tsv"), []byte(features.String()), 0o600))
}

// TestE2E_ImportSubsetConcatDataSet runs the whole pipeline on local
// storage and checks that the virtual dataset and the materialized
// concatenation agree row for row.
func TestE2E_ImportSubsetConcatDataSet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	rng := testutil.NewRNG(42)

	var paths []string
	for _, name := range []string{"s1", "s2", "s3"} {
		src := filepath.Join(root, "raw", name)
		writeTenx(t, src, rng, 40, 25)

		full := filepath.Join(root, name+".full")
		ad, err := anndata.Import(ctx, blobstore.NewLocalStore(full), tenx.New(), src)
		require.NoError(t, err)

		tbl, err := ad.Obs()
		require.NoError(t, err)
		require.NoError(t, tbl.AppendColumn(ctx, "cell_type", frame.NewCategorical(rng.Choice(40, "B", "T")...)))

		keep := make([]bool, 40)
		for i := range keep {
			keep[i] = i%2 == 0
		}
		dst := filepath.Join(root, name+".and")
		sub, err := ad.Subset(ctx, blobstore.NewLocalStore(dst), anndata.MaskFromBools(keep), nil)
		require.NoError(t, err)
		n, m := sub.Shape()
		require.Equal(t, [2]int{20, 25}, [2]int{n, m})
		require.NoError(t, ad.Close())
		require.NoError(t, sub.Close())
		paths = append(paths, dst)
	}

	ds, err := anndata.ReadDataset(ctx, paths, anndata.WithKeys("s1", "s2", "s3"))
	require.NoError(t, err)
	defer ds.Close()

	var members []*anndata.AnnData
	for _, p := range paths {
		ad, err := anndata.Read(ctx, p)
		require.NoError(t, err)
		defer ad.Close()
		members = append(members, ad)
	}
	cat, err := anndata.Concat(ctx, blobstore.NewLocalStore(filepath.Join(root, "all.and")), members,
		anndata.WithKeys("s1", "s2", "s3"))
	require.NoError(t, err)
	defer cat.Close()

	n, m := cat.Shape()
	require.Equal(t, 60, n)
	require.Equal(t, 25, m)
	rows, err := ds.RowCount()
	require.NoError(t, err)
	require.Equal(t, n, rows)

	x, err := cat.X()
	require.NoError(t, err)
	for _, w := range [][2]int{{0, 10}, {15, 25}, {35, 60}, {0, 60}} {
		virtual, err := ds.GetRows(ctx, w[0], w[1])
		require.NoError(t, err)
		materialized, err := x.ReadRows(ctx, w[0], w[1])
		require.NoError(t, err)
		assert.Equal(t, materialized.(*cas.Sparse).ToDense(), virtual.(*cas.Sparse).ToDense(), "rows %v", w)
	}

	obs, err := ds.Obs(ctx)
	require.NoError(t, err)
	stored, err := cat.Obs()
	require.NoError(t, err)
	storedFrame, err := stored.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storedFrame.Index(), obs.Index())
	assert.Equal(t, storedFrame.Names(), obs.Names())
}

// TestE2E_Restart reopens a container after its writer is gone and checks
// that committed state survives while a rejected write leaves no trace.
func TestE2E_Restart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rng := testutil.NewRNG(7)

	ad, err := anndata.Create(ctx, blobstore.NewLocalStore(dir), 30, 10)
	require.NoError(t, err)
	x := rng.Counts(30, 10, 0.4)
	require.NoError(t, ad.SetX(ctx, x, cas.CSR))
	require.ErrorIs(t, ad.SetLayers(ctx, "bad", rng.Counts(29, 10, 0.4)), anndata.ErrLengthMismatch)
	require.NoError(t, ad.Close())

	ro, err := anndata.Read(ctx, dir)
	require.NoError(t, err)
	defer ro.Close()

	keys, err := ro.LayersKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	h, err := ro.X()
	require.NoError(t, err)
	got, err := h.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, x.ToDense(), got.(*cas.Sparse).ToDense())
}
