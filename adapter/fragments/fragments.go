// Package fragments builds a cell-by-bin count matrix from single-cell
// ATAC-seq fragment files.
//
// A fragment file is tab separated with columns chrom, start, end, barcode
// and optionally count and strand. Lines starting with '#' are comments.
// Each fragment contributes its Tn5 insertion sites (both ends, or one end
// for single-ended records with a strand) to the genome-wide bins.
package fragments

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
	"github.com/hupe1980/anndata/resource"
)

// DefaultBinSize is the tile width in base pairs.
const DefaultBinSize = 500

// DefaultMaxFragmentSize bounds the fragment size distribution.
const DefaultMaxFragmentSize = 1000

// Strand of a single-ended fragment.
type Strand uint8

const (
	// NoStrand marks a paired fragment with insertions at both ends.
	NoStrand Strand = iota
	Forward
	Reverse
)

// Fragment is one record of a fragment file. Coordinates are zero-based,
// end exclusive.
type Fragment struct {
	Chrom      string
	Start, End int64
	Barcode    string
	Count      int
	Strand     Strand
}

// Insertions returns the Tn5 insertion positions.
func (f Fragment) Insertions() []int64 {
	switch f.Strand {
	case Forward:
		return []int64{f.Start}
	case Reverse:
		return []int64{f.End - 1}
	default:
		return []int64{f.Start, f.End - 1}
	}
}

// ParseFragment parses one tab-separated line.
func ParseFragment(line string) (Fragment, error) {
	f := strings.Split(line, "\t")
	if len(f) < 4 {
		return Fragment{}, fmt.Errorf("%w: fragment needs at least 4 fields: %q", cas.ErrCorruptFormat, line)
	}
	start, err1 := strconv.ParseInt(f[1], 10, 64)
	end, err2 := strconv.ParseInt(f[2], 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end <= start {
		return Fragment{}, fmt.Errorf("%w: bad fragment coordinates: %q", cas.ErrCorruptFormat, line)
	}
	frag := Fragment{Chrom: f[0], Start: start, End: end, Barcode: f[3], Count: 1}
	if frag.Barcode == "." {
		frag.Barcode = ""
	}
	if len(f) > 4 && f[4] != "." {
		n, err := strconv.Atoi(f[4])
		if err != nil || n < 1 {
			return Fragment{}, fmt.Errorf("%w: bad fragment count: %q", cas.ErrCorruptFormat, line)
		}
		frag.Count = n
	}
	if len(f) > 5 {
		switch f[5] {
		case "+":
			frag.Strand = Forward
		case "-":
			frag.Strand = Reverse
		case ".":
		default:
			return Fragment{}, fmt.Errorf("%w: bad strand: %q", cas.ErrCorruptFormat, line)
		}
	}
	return frag, nil
}

// Chrom is a reference sequence and its length.
type Chrom struct {
	Name   string
	Length int64
}

// ReadChromSizes parses a chrom.sizes file: one "name<TAB>length" pair
// per line. Blank lines and lines starting with '#' are skipped.
func ReadChromSizes(r io.Reader) ([]Chrom, error) {
	var genome []Chrom
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			return nil, fmt.Errorf("%w: chrom sizes line %q", cas.ErrCorruptFormat, line)
		}
		n, err := strconv.ParseInt(f[1], 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: chrom length %q", cas.ErrCorruptFormat, f[1])
		}
		genome = append(genome, Chrom{Name: f[0], Length: n})
	}
	return genome, sc.Err()
}

// Option configures the adapter.
type Option func(*Adapter)

// WithBinSize sets the tile width.
func WithBinSize(n int64) Option {
	return func(a *Adapter) { a.binSize = n }
}

// WithMitochondrial sets the names of mitochondrial chromosomes. The
// default is chrM and M.
func WithMitochondrial(names ...string) Option {
	return func(a *Adapter) { a.mito = names }
}

// WithMinFragments drops barcodes with fewer unique fragments.
func WithMinFragments(n int) Option {
	return func(a *Adapter) { a.minFragments = n }
}

// WithMaxFragmentSize sets the largest size tracked by the size
// distribution.
func WithMaxFragmentSize(n int) Option {
	return func(a *Adapter) { a.maxSize = n }
}

// WithTSS enables TSS enrichment: obs gains "tsse" and "frac_in_tss".
func WithTSS(sites []TSS) Option {
	return func(a *Adapter) { a.tss = sites }
}

// WithTSSWindow sets the flank on each side of a TSS. The default is
// DefaultTSSWindow.
func WithTSSWindow(n int64) Option {
	return func(a *Adapter) { a.tssWindow = n }
}

// WithRegions adds the obs column "frip": the fraction of unique nuclear
// fragments overlapping any of regions, typically a peak set.
func WithRegions(regions []Region) Option {
	return func(a *Adapter) { a.regions = regions }
}

// WithWhitelist keeps only the given barcodes.
func WithWhitelist(barcodes ...string) Option {
	return func(a *Adapter) { a.whitelist = barcodes }
}

// WithResourceController throttles reads.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Adapter) { a.rc = rc }
}

// Adapter imports a fragment file as a tile matrix.
type Adapter struct {
	genome       []Chrom
	binSize      int64
	mito         []string
	minFragments int
	maxSize      int
	tss          []TSS
	tssWindow    int64
	regions      []Region
	whitelist    []string
	rc           *resource.Controller
}

// New returns an adapter binning over genome.
func New(genome []Chrom, opts ...Option) *Adapter {
	a := &Adapter{
		genome:    genome,
		binSize:   DefaultBinSize,
		mito:      []string{"chrM", "M"},
		maxSize:   DefaultMaxFragmentSize,
		tssWindow: DefaultTSSWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "fragments" }

// cell accumulates one barcode's insertions and QC counts.
type cell struct {
	barcode                 string
	bins                    []int64
	total, unique, mitoFrag int64
	inRegion                int64
	tss                     tssProfile
}

// QC is the per-barcode quality summary.
type QC struct {
	// NFragment counts unique nuclear fragments.
	NFragment int64
	// FracDup is 1 - distinct / total, where total sums fragment counts.
	FracDup float64
	// FracMito is the fraction of distinct fragments on mitochondrial
	// chromosomes.
	FracMito float64
	// TSSE is the TSS enrichment score, set when TSS sites are given.
	TSSE float64
	// FracInTSS is the fraction of insertions within a promoter window.
	FracInTSS float64
	// FRiP is the fraction of unique nuclear fragments overlapping a
	// region, set when regions are given.
	FRiP float64
}

func (c *cell) qc(p *promoters) QC {
	distinct := float64(c.unique + c.mitoFrag)
	q := QC{NFragment: c.unique}
	if p != nil {
		q.TSSE, q.FracInTSS = c.tss.enrichment(p), c.tss.fracInTSS()
	}
	if c.unique > 0 {
		q.FRiP = float64(c.inRegion) / float64(c.unique)
	}
	if c.total > 0 {
		q.FracDup = 1 - distinct/float64(c.total)
	}
	if distinct > 0 {
		q.FracMito = float64(c.mitoFrag) / distinct
	}
	return q
}

// Parse implements adapter.Adapter. It yields X (cells x bins, int32
// counts), obs with n_fragment, frac_dup and frac_mito (plus tsse and
// frac_in_tss with WithTSS, and frip with WithRegions), var indexed by
// "chrom:start-end", uns/reference_sequences and
// uns/fragment_size_distribution.
func (a *Adapter) Parse(ctx context.Context, source string) iter.Seq2[adapter.Entry, error] {
	if a.binSize <= 0 {
		return adapter.Fail(fmt.Errorf("%w: bin size %d", cas.ErrOutOfRange, a.binSize))
	}
	if len(a.genome) == 0 {
		return adapter.Fail(fmt.Errorf("%w: empty genome", cas.ErrNotFound))
	}
	if a.tss != nil && a.tssWindow < tsseFlank {
		return adapter.Fail(fmt.Errorf("%w: TSS window %d is below %d", cas.ErrOutOfRange, a.tssWindow, tsseFlank))
	}
	return func(yield func(adapter.Entry, error) bool) {
		entries, err := a.build(ctx, source)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (a *Adapter) build(ctx context.Context, source string) ([]adapter.Entry, error) {
	type span struct{ offset, length int64 }
	chroms := make(map[string]span, len(a.genome))
	var nBins int64
	for _, c := range a.genome {
		if _, dup := chroms[c.Name]; dup {
			return nil, fmt.Errorf("%w: chromosome %s", cas.ErrDuplicateName, c.Name)
		}
		chroms[c.Name] = span{nBins, c.Length}
		nBins += (c.Length + a.binSize - 1) / a.binSize
	}
	mito := make(map[string]bool, len(a.mito))
	for _, m := range a.mito {
		mito[m] = true
	}
	var prom *promoters
	if a.tss != nil {
		prom = newPromoters(a.tss, a.tssWindow)
	}
	var regions intervalIndex
	if a.regions != nil {
		regions = make(intervalIndex)
		for _, r := range a.regions {
			regions.add(r.Chrom, r.Start, r.End, true)
		}
		regions.sort()
	}
	var allowed map[string]bool
	if a.whitelist != nil {
		allowed = make(map[string]bool, len(a.whitelist))
		for _, b := range a.whitelist {
			allowed[b] = true
		}
	}

	r, err := adapter.Open(ctx, source, a.rc)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var cells []*cell
	byBarcode := make(map[string]*cell)
	sizes := make([]int64, a.maxSize+1)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if line%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := sc.Text()
		if text == "" || text[0] == '#' {
			continue
		}
		frag, err := ParseFragment(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", source, line, err)
		}
		if frag.Barcode == "" || (allowed != nil && !allowed[frag.Barcode]) {
			continue
		}
		c := byBarcode[frag.Barcode]
		if c == nil {
			c = &cell{barcode: frag.Barcode}
			byBarcode[frag.Barcode] = c
			cells = append(cells, c)
		}
		c.total += int64(frag.Count)
		if mito[frag.Chrom] {
			c.mitoFrag++
			continue
		}
		c.unique++
		if size := frag.End - frag.Start; size <= int64(a.maxSize) {
			sizes[size]++
		} else {
			sizes[0]++
		}
		if regions != nil && regions.overlaps(frag.Chrom, frag.Start, frag.End) {
			c.inRegion++
		}
		if prom != nil {
			for _, pos := range frag.Insertions() {
				c.tss.add(prom, frag.Chrom, pos)
			}
		}
		chrom, ok := chroms[frag.Chrom]
		if !ok {
			continue
		}
		for _, pos := range frag.Insertions() {
			if pos < chrom.length {
				c.bins = append(c.bins, chrom.offset+pos/a.binSize)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	kept := cells[:0]
	for _, c := range cells {
		if c.unique >= int64(a.minFragments) {
			kept = append(kept, c)
		}
	}
	return a.entries(kept, nBins, sizes, prom)
}

func (a *Adapter) entries(cells []*cell, nBins int64, sizes []int64, prom *promoters) ([]adapter.Entry, error) {
	var rows, cols []int64
	barcodes := make([]string, len(cells))
	nFrag := make(cas.Int64s, len(cells))
	fracDup := make(cas.Float64s, len(cells))
	fracMito := make(cas.Float64s, len(cells))
	tsse := make(cas.Float64s, len(cells))
	inTSS := make(cas.Float64s, len(cells))
	frip := make(cas.Float64s, len(cells))
	for i, c := range cells {
		barcodes[i] = c.barcode
		q := c.qc(prom)
		nFrag[i], fracDup[i], fracMito[i] = q.NFragment, q.FracDup, q.FracMito
		tsse[i], inTSS[i], frip[i] = q.TSSE, q.FracInTSS, q.FRiP
		for _, b := range c.bins {
			rows = append(rows, int64(i))
			cols = append(cols, b)
		}
	}
	ones := make(cas.Int32s, len(rows))
	for i := range ones {
		ones[i] = 1
	}
	x, err := cas.CSRFromTriples(len(cells), int(nBins), rows, cols, ones)
	if err != nil {
		return nil, err
	}

	obs, err := frame.New(barcodes)
	if err != nil {
		return nil, err
	}
	type column struct {
		name string
		v    any
	}
	qcCols := []column{{"n_fragment", nFrag}, {"frac_dup", fracDup}, {"frac_mito", fracMito}}
	if prom != nil {
		qcCols = append(qcCols, column{"tsse", tsse}, column{"frac_in_tss", inTSS})
	}
	if a.regions != nil {
		qcCols = append(qcCols, column{"frip", frip})
	}
	for _, col := range qcCols {
		if err := obs.AppendColumn(col.name, col.v); err != nil {
			return nil, err
		}
	}

	binNames := make([]string, 0, nBins)
	refNames := make([]string, len(a.genome))
	refLens := make(cas.Int64s, len(a.genome))
	for i, c := range a.genome {
		refNames[i], refLens[i] = c.Name, c.Length
		for s := int64(0); s < c.Length; s += a.binSize {
			binNames = append(binNames, c.Name+":"+strconv.FormatInt(s, 10)+"-"+strconv.FormatInt(min(s+a.binSize, c.Length), 10))
		}
	}
	vr, err := frame.New(binNames)
	if err != nil {
		return nil, err
	}
	ref := frame.Range(len(a.genome))
	if err := ref.AppendColumn("reference_seq_name", refNames); err != nil {
		return nil, err
	}
	if err := ref.AppendColumn("reference_seq_length", refLens); err != nil {
		return nil, err
	}

	return []adapter.Entry{
		{Path: "/X", Value: x},
		{Path: "/obs", Value: obs},
		{Path: "/var", Value: vr},
		{Path: "/uns/reference_sequences", Value: ref},
		{Path: "/uns/fragment_size_distribution", Value: cas.Int64s(sizes)},
		{Path: "/uns/bin_size", Value: a.binSize},
	}, nil
}
