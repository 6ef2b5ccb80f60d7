package fragments

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/resource"
)

// DefaultTSSWindow is the flank on each side of a TSS used for TSS
// enrichment.
const DefaultTSSWindow = 2000

// tsseFlank is the number of positions at each end of the promoter profile
// averaged as background.
const tsseFlank = 100

// tsseSmooth is the half width of the moving average taken at the TSS.
const tsseSmooth = 5

// TSS is a transcription start site. Pos is zero-based.
type TSS struct {
	Chrom   string
	Pos     int64
	Forward bool
}

// ReadTSS reads the start sites of "transcript" records from a GTF or GFF
// file. Several transcripts of one gene may share a site; duplicates are
// kept.
func ReadTSS(r io.Reader) ([]TSS, error) {
	var out []TSS
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || text[0] == '#' {
			continue
		}
		f := strings.Split(text, "\t")
		if len(f) < 7 {
			return nil, fmt.Errorf("%w: line %d: annotation needs 7 fields", cas.ErrCorruptFormat, line)
		}
		if f[2] != "transcript" {
			continue
		}
		fwd := f[6] != "-"
		col := f[3]
		if !fwd {
			col = f[4]
		}
		pos, err := strconv.ParseInt(col, 10, 64)
		if err != nil || pos < 1 {
			return nil, fmt.Errorf("%w: line %d: position %q", cas.ErrCorruptFormat, line, col)
		}
		out = append(out, TSS{Chrom: f[0], Pos: pos - 1, Forward: fwd})
	}
	return out, sc.Err()
}

// Region is a half-open genomic interval.
type Region struct {
	Chrom      string
	Start, End int64
}

// ReadBED reads the first three columns of a BED file. Header lines
// ("#", "track", "browser") are skipped.
func ReadBED(r io.Reader) ([]Region, error) {
	var out []Region
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || strings.HasPrefix(text, "track") || strings.HasPrefix(text, "browser") {
			continue
		}
		f := strings.Fields(text)
		if len(f) < 3 {
			return nil, fmt.Errorf("%w: line %d: region needs 3 fields", cas.ErrCorruptFormat, line)
		}
		start, err1 := strconv.ParseInt(f[1], 10, 64)
		end, err2 := strconv.ParseInt(f[2], 10, 64)
		if err1 != nil || err2 != nil || start < 0 || end <= start {
			return nil, fmt.Errorf("%w: line %d: bad region %q", cas.ErrCorruptFormat, line, text)
		}
		out = append(out, Region{Chrom: f[0], Start: start, End: end})
	}
	return out, sc.Err()
}

// CountBarcodes counts fragment records per barcode in source. Records
// without a barcode are ignored. The counts are typically used to choose
// the barcodes passed to WithWhitelist.
func CountBarcodes(ctx context.Context, source string, rc *resource.Controller) (map[string]int64, error) {
	r, err := adapter.Open(ctx, source, rc)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	counts := make(map[string]int64)
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
		if frag.Barcode != "" {
			counts[frag.Barcode]++
		}
	}
	return counts, sc.Err()
}

// intervals is a per-chromosome list of intervals sorted by start whose
// lengths are bounded by maxLen.
type intervals struct {
	starts, ends []int64
	forward      []bool
	maxLen       int64
}

type intervalIndex map[string]*intervals

func (x intervalIndex) add(chrom string, start, end int64, fwd bool) {
	iv := x[chrom]
	if iv == nil {
		iv = &intervals{}
		x[chrom] = iv
	}
	iv.starts = append(iv.starts, start)
	iv.ends = append(iv.ends, end)
	iv.forward = append(iv.forward, fwd)
	iv.maxLen = max(iv.maxLen, end-start)
}

func (x intervalIndex) sort() {
	for _, iv := range x {
		sort.Sort(iv)
	}
}

func (iv *intervals) Len() int           { return len(iv.starts) }
func (iv *intervals) Less(i, j int) bool { return iv.starts[i] < iv.starts[j] }
func (iv *intervals) Swap(i, j int) {
	iv.starts[i], iv.starts[j] = iv.starts[j], iv.starts[i]
	iv.ends[i], iv.ends[j] = iv.ends[j], iv.ends[i]
	iv.forward[i], iv.forward[j] = iv.forward[j], iv.forward[i]
}

// overlapping calls fn for every interval intersecting [start, end).
func (x intervalIndex) overlapping(chrom string, start, end int64, fn func(i int, iv *intervals)) {
	iv := x[chrom]
	if iv == nil {
		return
	}
	lo := sort.Search(len(iv.starts), func(i int) bool { return iv.starts[i] > start-iv.maxLen })
	for i := lo; i < len(iv.starts) && iv.starts[i] < end; i++ {
		if iv.ends[i] > start {
			fn(i, iv)
		}
	}
}

func (x intervalIndex) overlaps(chrom string, start, end int64) bool {
	hit := false
	x.overlapping(chrom, start, end, func(int, *intervals) { hit = true })
	return hit
}

// promoters indexes the windows of 2*window+1 bp centered on each TSS.
type promoters struct {
	index  intervalIndex
	window int64
}

func newPromoters(sites []TSS, window int64) *promoters {
	p := &promoters{index: make(intervalIndex), window: window}
	for _, s := range sites {
		// Windows are not clipped at 0 so offsets stay relative to the TSS.
		p.index.add(s.Chrom, s.Pos-window, s.Pos+window+1, s.Forward)
	}
	p.index.sort()
	return p
}

func (p *promoters) len() int64 { return 2*p.window + 1 }

// tssProfile keeps the parts of a cell's promoter insertion profile that
// TSS enrichment reads: both flanks and the positions around the center.
type tssProfile struct {
	flanks      int64
	center      []int64
	overlapping int64
	total       int64
}

func (t *tssProfile) add(p *promoters, chrom string, pos int64) {
	t.total++
	n := p.len()
	hit := false
	p.index.overlapping(chrom, pos, pos+1, func(i int, iv *intervals) {
		hit = true
		off := pos - iv.starts[i]
		if !iv.forward[i] {
			off = iv.ends[i] - 1 - pos
		}
		if off < tsseFlank || off >= n-tsseFlank {
			t.flanks++
		}
		if d := off - p.window; d >= -tsseSmooth && d <= tsseSmooth {
			if t.center == nil {
				t.center = make([]int64, 2*tsseSmooth+1)
			}
			t.center[d+tsseSmooth]++
		}
	})
	if hit {
		t.overlapping++
	}
}

// enrichment is the smoothed insertion count at the TSS over the mean
// count of the flanks, with a pseudocount of 0.1.
func (t *tssProfile) enrichment(p *promoters) float64 {
	n := p.len()
	flankWidth := min(int64(tsseFlank), n)
	background := float64(t.flanks)/float64(2*flankWidth) + 0.1
	lo, hi := max(p.window-tsseSmooth, 0), min(p.window+tsseSmooth+1, n)
	var sum int64
	if t.center != nil {
		for pos := lo; pos < hi; pos++ {
			sum += t.center[pos-p.window+tsseSmooth]
		}
	}
	return float64(sum) / float64(hi-lo) / background
}

// fracInTSS is the fraction of insertions falling in any promoter window.
func (t *tssProfile) fracInTSS() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.overlapping) / float64(t.total)
}
