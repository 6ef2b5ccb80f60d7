package fragments

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

const sample = "# fragments for tests\n" +
	"chr1\t10\t200\tAAA\t2\n" +
	"chr1\t600\t700\tAAA\t1\n" +
	"chrM\t5\t50\tAAA\t1\n" +
	"chr2\t100\t300\tBBB\t1\t+\n" +
	"chr3\t0\t10\tBBB\t1\n"

var genome = []Chrom{{"chr1", 1000}, {"chr2", 500}}

func parse(t *testing.T, a *Adapter) map[string]any {
	t.Helper()
	return parseText(t, a, sample)
}

func parseText(t *testing.T, a *Adapter, text string) map[string]any {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fragments.tsv")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	out := make(map[string]any)
	for e, err := range a.Parse(context.Background(), path) {
		require.NoError(t, err)
		out[e.Path] = e.Value
	}
	return out
}

func TestParseFragment(t *testing.T) {
	f, err := ParseFragment("chr1\t10\t20\tAC\t3\t-")
	require.NoError(t, err)
	assert.Equal(t, Fragment{Chrom: "chr1", Start: 10, End: 20, Barcode: "AC", Count: 3, Strand: Reverse}, f)
	assert.Equal(t, []int64{19}, f.Insertions())

	f, err = ParseFragment("chr1\t10\t20\tAC")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Count)
	assert.Equal(t, []int64{10, 19}, f.Insertions())

	for _, bad := range []string{"chr1\t10", "chr1\t20\t10\tA", "chr1\t1\t2\tA\tx", "chr1\t1\t2\tA\t0", "chr1\t1\t2\tA\t1\t?"} {
		_, err := ParseFragment(bad)
		assert.ErrorIs(t, err, cas.ErrCorruptFormat, bad)
	}
}

func TestTileMatrix(t *testing.T) {
	entries := parse(t, New(genome, WithMaxFragmentSize(150)))

	x := entries["/X"].(*cas.Sparse)
	require.Equal(t, 2, x.Rows)
	require.Equal(t, 3, x.Cols)
	d := x.ToDense()
	assert.Equal(t, cas.Int32s{2, 2, 0, 0, 0, 1}, d.Data)

	vr := entries["/var"].(*frame.Frame)
	assert.Equal(t, []string{"chr1:0-500", "chr1:500-1000", "chr2:0-500"}, vr.Index())

	obs := entries["/obs"].(*frame.Frame)
	assert.Equal(t, []string{"AAA", "BBB"}, obs.Index())
	col := func(name string) cas.Array {
		c, err := obs.Column(name)
		require.NoError(t, err)
		return c.(*frame.Numeric).Data
	}
	assert.Equal(t, cas.Int64s{2, 2}, col("n_fragment"))
	fracDup := col("frac_dup").(cas.Float64s)
	assert.InDelta(t, 0.25, fracDup[0], 1e-12)
	assert.InDelta(t, 0.0, fracDup[1], 1e-12)
	fracMito := col("frac_mito").(cas.Float64s)
	assert.InDelta(t, 1.0/3, fracMito[0], 1e-12)
	assert.InDelta(t, 0.0, fracMito[1], 1e-12)

	sizes := entries["/uns/fragment_size_distribution"].(cas.Int64s)
	require.Len(t, sizes, 151)
	assert.Equal(t, int64(2), sizes[0])
	assert.Equal(t, int64(1), sizes[100])
	assert.Equal(t, int64(1), sizes[10])

	ref := entries["/uns/reference_sequences"].(*frame.Frame)
	assert.Equal(t, 2, ref.Len())
	assert.Equal(t, int64(500), entries["/uns/bin_size"])
}

func TestMinFragments(t *testing.T) {
	entries := parse(t, New(genome, WithMinFragments(3)))
	x := entries["/X"].(*cas.Sparse)
	assert.Equal(t, 0, x.Rows)
	assert.Equal(t, 0, entries["/obs"].(*frame.Frame).Len())
}

func TestBadConfig(t *testing.T) {
	for _, err := range New(nil).Parse(context.Background(), "x") {
		assert.ErrorIs(t, err, cas.ErrNotFound)
	}
	for _, err := range New(genome, WithBinSize(0)).Parse(context.Background(), "x") {
		assert.ErrorIs(t, err, cas.ErrOutOfRange)
	}
}

func TestReadChromSizes(t *testing.T) {
	genome, err := ReadChromSizes(strings.NewReader("# hg38 subset\nchr1\t1000\n\nchr2 500\n"))
	require.NoError(t, err)
	assert.Equal(t, []Chrom{{"chr1", 1000}, {"chr2", 500}}, genome)

	_, err = ReadChromSizes(strings.NewReader("chr1\n"))
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
	_, err = ReadChromSizes(strings.NewReader("chr1\t-4\n"))
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
}
