// Package mtx reads and writes Matrix Market coordinate files, the
// exchange format of 10x Genomics and many single-cell tools.
//
// Supported headers are "matrix coordinate {integer|real|pattern} general".
// Integer values load as int32, real values as float32 and pattern
// entries as int32 ones.
package mtx

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
	"github.com/hupe1980/anndata/resource"
)

const banner = "%%MatrixMarket"

// Field is the value type declared in the header.
type Field string

const (
	Integer Field = "integer"
	Real    Field = "real"
	Pattern Field = "pattern"
)

// Header is the parsed banner and size line.
type Header struct {
	Field           Field
	Rows, Cols, NNZ int
}

// Option configures the adapter.
type Option func(*Adapter)

// WithTranspose swaps rows and columns after reading, as needed for 10x
// files which store features x barcodes.
func WithTranspose() Option {
	return func(a *Adapter) { a.transpose = true }
}

// WithResourceController throttles reads.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Adapter) { a.rc = rc }
}

// Adapter imports a .mtx or .mtx.gz file as X.
type Adapter struct {
	transpose bool
	rc        *resource.Controller
}

// New returns an mtx adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "mtx" }

// Parse implements adapter.Adapter. It yields a single CSR entry for /X.
func (a *Adapter) Parse(ctx context.Context, source string) iter.Seq2[adapter.Entry, error] {
	return func(yield func(adapter.Entry, error) bool) {
		m, err := a.ReadFile(ctx, source)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		yield(adapter.Entry{Path: "/X", Value: m}, nil)
	}
}

// ReadFile reads a possibly gzipped file.
func (a *Adapter) ReadFile(ctx context.Context, path string) (*cas.Sparse, error) {
	r, err := adapter.Open(ctx, path, a.rc)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	m, err := Read(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if a.transpose {
		m = m.Transpose().ToCSR()
	}
	return m, nil
}

// Read parses a Matrix Market stream into a CSR matrix. Duplicate
// coordinates are summed.
func Read(ctx context.Context, r io.Reader) (*cas.Sparse, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	next := func() (string, bool) {
		for sc.Scan() {
			line++
			s := strings.TrimSpace(sc.Text())
			if s == "" || (strings.HasPrefix(s, "%") && line > 1) {
				continue
			}
			return s, true
		}
		return "", false
	}

	first, ok := next()
	if !ok {
		return nil, fmt.Errorf("%w: empty input", cas.ErrCorruptFormat)
	}
	h, err := parseBanner(first)
	if err != nil {
		return nil, err
	}
	size, ok := next()
	if !ok {
		return nil, fmt.Errorf("%w: missing size line", cas.ErrCorruptFormat)
	}
	if err := parseSize(size, &h); err != nil {
		return nil, err
	}

	rows := make([]int64, 0, h.NNZ)
	cols := make([]int64, 0, h.NNZ)
	var ints cas.Int32s
	var reals cas.Float32s
	for k := 0; k < h.NNZ; k++ {
		if k%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s, ok := next()
		if !ok {
			return nil, fmt.Errorf("%w: %d of %d entries", cas.ErrCorruptFormat, k, h.NNZ)
		}
		f := strings.Fields(s)
		want := 3
		if h.Field == Pattern {
			want = 2
		}
		if len(f) < want {
			return nil, fmt.Errorf("%w: line %d: %q", cas.ErrCorruptFormat, line, s)
		}
		i, err1 := strconv.ParseInt(f[0], 10, 64)
		j, err2 := strconv.ParseInt(f[1], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: line %d: bad coordinates %q", cas.ErrCorruptFormat, line, s)
		}
		if i < 1 || i > int64(h.Rows) || j < 1 || j > int64(h.Cols) {
			return nil, fmt.Errorf("%w: line %d: entry (%d, %d) outside %dx%d", cas.ErrOutOfRange, line, i, j, h.Rows, h.Cols)
		}
		rows = append(rows, i-1)
		cols = append(cols, j-1)
		switch h.Field {
		case Integer:
			v, err := strconv.ParseInt(f[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", cas.ErrCorruptFormat, line, err)
			}
			ints = append(ints, int32(v))
		case Real:
			v, err := strconv.ParseFloat(f[2], 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", cas.ErrCorruptFormat, line, err)
			}
			reals = append(reals, float32(v))
		case Pattern:
			ints = append(ints, 1)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var data cas.Array = ints
	if h.Field == Real {
		data = reals
	}
	if data.Len() == 0 {
		if h.Field == Real {
			data = cas.Float32s{}
		} else {
			data = cas.Int32s{}
		}
	}
	return cas.CSRFromTriples(h.Rows, h.Cols, rows, cols, data)
}

func parseBanner(s string) (Header, error) {
	f := strings.Fields(strings.ToLower(s))
	if len(f) != 5 || f[0] != strings.ToLower(banner) {
		return Header{}, fmt.Errorf("%w: not a Matrix Market file", cas.ErrCorruptFormat)
	}
	if f[1] != "matrix" || f[2] != "coordinate" {
		return Header{}, fmt.Errorf("%w: unsupported object %s %s", cas.ErrTypeMismatch, f[1], f[2])
	}
	if f[4] != "general" {
		return Header{}, fmt.Errorf("%w: unsupported symmetry %s", cas.ErrTypeMismatch, f[4])
	}
	switch fld := Field(f[3]); fld {
	case Integer, Real, Pattern:
		return Header{Field: fld}, nil
	default:
		return Header{}, fmt.Errorf("%w: unsupported field %s", cas.ErrTypeMismatch, f[3])
	}
}

func parseSize(s string, h *Header) error {
	f := strings.Fields(s)
	if len(f) != 3 {
		return fmt.Errorf("%w: bad size line %q", cas.ErrCorruptFormat, s)
	}
	var err error
	for i, dst := range []*int{&h.Rows, &h.Cols, &h.NNZ} {
		if *dst, err = strconv.Atoi(f[i]); err != nil || *dst < 0 {
			return fmt.Errorf("%w: bad size line %q", cas.ErrCorruptFormat, s)
		}
	}
	return nil
}

// Write encodes m in coordinate format. Float matrices are written as
// real, integer matrices as integer.
func Write(w io.Writer, m *cas.Sparse) error {
	field := Real
	switch m.DType() {
	case cas.Int32, cas.Int64, cas.Uint32, cas.Bool:
		field = Integer
	case cas.Float32, cas.Float64:
	default:
		return fmt.Errorf("%w: cannot write %s matrix", cas.ErrTypeMismatch, m.DType())
	}
	csr := m.ToCSR()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s matrix coordinate %s general\n", banner, field)
	fmt.Fprintf(bw, "%d %d %d\n", csr.Rows, csr.Cols, csr.NNZ())
	for r := 0; r < csr.Rows; r++ {
		for k := csr.Indptr[r]; k < csr.Indptr[r+1]; k++ {
			v := csr.Data.At(int(k))
			if b, ok := v.(bool); ok {
				v = 0
				if b {
					v = 1
				}
			}
			fmt.Fprintf(bw, "%d %d %v\n", r+1, csr.Indices[k]+1, v)
		}
	}
	return bw.Flush()
}
