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

const annotation = "#!genome-build test\n" +
	"chr1\tsrc\tgene\t1001\t3000\t.\t+\t.\tgene_id \"g1\";\n" +
	"chr1\tsrc\ttranscript\t1001\t3000\t.\t+\t.\tgene_id \"g1\";\n" +
	"chr1\tsrc\texon\t1001\t1200\t.\t+\t.\tgene_id \"g1\";\n" +
	"chr2\tsrc\ttranscript\t100\t301\t.\t-\t.\tgene_id \"g2\";\n"

func obsColumn(t *testing.T, entries map[string]any, name string) cas.Array {
	t.Helper()
	c, err := entries["/obs"].(*frame.Frame).Column(name)
	require.NoError(t, err)
	return c.(*frame.Numeric).Data
}

func TestReadTSS(t *testing.T) {
	sites, err := ReadTSS(strings.NewReader(annotation))
	require.NoError(t, err)
	assert.Equal(t, []TSS{{"chr1", 1000, true}, {"chr2", 300, false}}, sites)

	_, err = ReadTSS(strings.NewReader("chr1\tsrc\ttranscript\n"))
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
	_, err = ReadTSS(strings.NewReader("chr1\tsrc\ttranscript\tx\t10\t.\t+\n"))
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
}

func TestReadBED(t *testing.T) {
	regions, err := ReadBED(strings.NewReader("track name=peaks\n# comment\nchr1\t0\t100\tpeak1\nchr2 5 9\n"))
	require.NoError(t, err)
	assert.Equal(t, []Region{{"chr1", 0, 100}, {"chr2", 5, 9}}, regions)

	for _, bad := range []string{"chr1\t5\n", "chr1\t9\t5\n", "chr1\ta\t5\n"} {
		_, err := ReadBED(strings.NewReader(bad))
		assert.ErrorIs(t, err, cas.ErrCorruptFormat, bad)
	}
}

func TestTSSEnrichment(t *testing.T) {
	sites, err := ReadTSS(strings.NewReader(annotation))
	require.NoError(t, err)

	const text = "chr1\t1000\t1003\tAAA\n" + // both insertions next to the TSS
		"chr1\t850\t1150\tAAA\n" + // both insertions in the flanks
		"chr1\t5000\t5100\tAAA\n" + // outside any promoter
		"chr2\t290\t296\tBBB\n" + // reverse strand: offsets 10 and 5 from the TSS
		"chr1\t100\t200\tCCC\n"
	g := []Chrom{{"chr1", 6000}, {"chr2", 500}}
	entries := parseText(t, New(g, WithTSS(sites), WithTSSWindow(200)), text)

	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, entries["/obs"].(*frame.Frame).Index())
	tsse := obsColumn(t, entries, "tsse").(cas.Float64s)
	assert.InDelta(t, (2.0/11)/(2.0/200+0.1), tsse[0], 1e-12)
	assert.InDelta(t, (1.0/11)/0.1, tsse[1], 1e-12)
	assert.InDelta(t, 0.0, tsse[2], 1e-12)

	inTSS := obsColumn(t, entries, "frac_in_tss").(cas.Float64s)
	assert.InDelta(t, 4.0/6, inTSS[0], 1e-12)
	assert.InDelta(t, 1.0, inTSS[1], 1e-12)
	assert.InDelta(t, 0.0, inTSS[2], 1e-12)

	_, err = entries["/obs"].(*frame.Frame).Column("frip")
	assert.Error(t, err)
}

func TestTSSWindowTooSmall(t *testing.T) {
	a := New(genome, WithTSS([]TSS{{"chr1", 10, true}}), WithTSSWindow(50))
	for _, err := range a.Parse(context.Background(), "x") {
		assert.ErrorIs(t, err, cas.ErrOutOfRange)
	}
}

func TestFRiP(t *testing.T) {
	entries := parse(t, New(genome, WithRegions([]Region{{"chr1", 0, 100}, {"chr2", 400, 450}})))
	frip := obsColumn(t, entries, "frip").(cas.Float64s)
	// AAA: one of two nuclear fragments touches chr1:0-100. BBB: none.
	assert.InDelta(t, 0.5, frip[0], 1e-12)
	assert.InDelta(t, 0.0, frip[1], 1e-12)

	_, err := entries["/obs"].(*frame.Frame).Column("tsse")
	assert.Error(t, err)
}

func TestWhitelist(t *testing.T) {
	entries := parse(t, New(genome, WithWhitelist("BBB", "ZZZ")))
	assert.Equal(t, []string{"BBB"}, entries["/obs"].(*frame.Frame).Index())
	assert.Equal(t, 1, entries["/X"].(*cas.Sparse).Rows)
}

func TestCountBarcodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.tsv")
	require.NoError(t, os.WriteFile(path, []byte(sample+"chr1\t1\t9\t.\n"), 0o644))

	counts, err := CountBarcodes(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"AAA": 3, "BBB": 2}, counts)

	require.NoError(t, os.WriteFile(path, []byte("chr1\t1\t9\tAAA\t0\n"), 0o644))
	_, err = CountBarcodes(context.Background(), path, nil)
	assert.ErrorIs(t, err, cas.ErrCorruptFormat)
}

func TestZeroCountRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.tsv")
	require.NoError(t, os.WriteFile(path, []byte("chr1\t10\t200\tAAA\t0\n"), 0o644))
	for _, err := range New(genome).Parse(context.Background(), path) {
		assert.ErrorIs(t, err, cas.ErrCorruptFormat)
	}
}
