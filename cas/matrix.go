package cas

import (
	"fmt"
	"sort"
)

// Encoding is the storage layout of a sparse matrix.
type Encoding uint8

const (
	// EncodingNone marks dense and non-matrix nodes.
	EncodingNone Encoding = iota
	// CSR compresses rows: indptr has Rows+1 entries, indices are columns.
	CSR
	// CSC compresses columns: indptr has Cols+1 entries, indices are rows.
	CSC
)

func (e Encoding) String() string {
	switch e {
	case EncodingNone:
		return "none"
	case CSR:
		return "csr"
	case CSC:
		return "csc"
	default:
		return fmt.Sprintf("encoding(%d)", e)
	}
}

// Range is a half-open index interval. Hi < 0 means "to the end".
type Range struct {
	Lo, Hi int
}

// All selects a whole axis.
func All() Range { return Range{Lo: 0, Hi: -1} }

// Span returns the range [lo, hi).
func Span(lo, hi int) Range { return Range{Lo: lo, Hi: hi} }

// Len returns the number of indices in a resolved range.
func (r Range) Len() int { return r.Hi - r.Lo }

func (r Range) resolve(path string, axis, n int) (Range, error) {
	if r.Hi < 0 {
		r.Hi = n
	}
	if r.Lo < 0 || r.Lo > r.Hi || r.Hi > n {
		return r, &OutOfRangeError{Path: path, Axis: axis, Lo: int64(r.Lo), Hi: int64(r.Hi), Len: int64(n)}
	}
	return r, nil
}

// Matrix is a 2-D array, either *Dense or *Sparse.
type Matrix interface {
	Shape() (rows, cols int)
	DType() DType
}

// Dense is a row-major matrix.
type Dense struct {
	Rows, Cols int
	Data       Array
}

// NewDense validates and wraps row-major data.
func NewDense(rows, cols int, data Array) (*Dense, error) {
	if data.Len() != rows*cols {
		return nil, &LengthMismatchError{What: "dense data", Want: int64(rows * cols), Got: int64(data.Len())}
	}
	return &Dense{Rows: rows, Cols: cols, Data: data}, nil
}

func (d *Dense) Shape() (int, int) { return d.Rows, d.Cols }
func (d *Dense) DType() DType      { return d.Data.DType() }

// At returns element (r, c).
func (d *Dense) At(r, c int) any { return d.Data.At(r*d.Cols + c) }

// Row returns row r, sharing memory.
func (d *Dense) Row(r int) Array { return d.Data.Slice(r*d.Cols, (r+1)*d.Cols) }

// Select returns the rows and columns given by index; nil keeps an axis.
// A negative column index yields the missing value of the dtype.
func (d *Dense) Select(rows, cols []int) *Dense {
	if rows == nil {
		rows = seq(0, d.Rows)
	}
	if cols == nil {
		cols = seq(0, d.Cols)
	}
	idx := make([]int, 0, len(rows)*len(cols))
	for _, r := range rows {
		base := r * d.Cols
		for _, c := range cols {
			if c < 0 {
				idx = append(idx, -1)
			} else {
				idx = append(idx, base+c)
			}
		}
	}
	return &Dense{Rows: len(rows), Cols: len(cols), Data: Gather(d.Data, idx)}
}

// VStackDense stacks dense matrices with equal column counts.
func VStackDense(mats ...*Dense) (*Dense, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrTypeMismatch)
	}
	cols := mats[0].Cols
	rows := 0
	parts := make([]Array, 0, len(mats))
	for _, m := range mats {
		if m.Cols != cols {
			return nil, &LengthMismatchError{What: "stacked columns", Want: int64(cols), Got: int64(m.Cols)}
		}
		rows += m.Rows
		parts = append(parts, m.Data)
	}
	data, err := Concat(parts...)
	if err != nil {
		return nil, err
	}
	return &Dense{Rows: rows, Cols: cols, Data: data}, nil
}

// Sparse is a compressed sparse matrix in CSR or CSC layout.
type Sparse struct {
	Format     Encoding
	Rows, Cols int
	Indptr     []int64
	Indices    []int64
	Data       Array
}

func (s *Sparse) Shape() (int, int) { return s.Rows, s.Cols }
func (s *Sparse) DType() DType      { return s.Data.DType() }

// NNZ returns the number of stored entries.
func (s *Sparse) NNZ() int { return len(s.Indices) }

func (s *Sparse) dims() (major, minor int) {
	if s.Format == CSC {
		return s.Cols, s.Rows
	}
	return s.Rows, s.Cols
}

// Validate checks structural consistency.
func (s *Sparse) Validate() error {
	if s.Format != CSR && s.Format != CSC {
		return fmt.Errorf("%w: sparse format %s", ErrTypeMismatch, s.Format)
	}
	major, minor := s.dims()
	if len(s.Indptr) != major+1 {
		return &LengthMismatchError{What: "indptr", Want: int64(major + 1), Got: int64(len(s.Indptr))}
	}
	if s.Data.Len() != len(s.Indices) {
		return &LengthMismatchError{What: "sparse data", Want: int64(len(s.Indices)), Got: int64(s.Data.Len())}
	}
	if s.Indptr[0] != 0 || s.Indptr[major] != int64(len(s.Indices)) {
		return fmt.Errorf("%w: indptr spans [%d, %d] for %d entries", ErrOutOfRange, s.Indptr[0], s.Indptr[major], len(s.Indices))
	}
	for i := 0; i < major; i++ {
		if s.Indptr[i] > s.Indptr[i+1] {
			return fmt.Errorf("%w: indptr decreases at %d", ErrOutOfRange, i)
		}
	}
	for i, j := range s.Indices {
		if j < 0 || j >= int64(minor) {
			return fmt.Errorf("%w: index %d at %d outside [0, %d)", ErrOutOfRange, j, i, minor)
		}
	}
	return nil
}

// Sorted reports whether indices are ascending within every major segment.
func (s *Sparse) Sorted() bool {
	for i := 0; i+1 < len(s.Indptr); i++ {
		seg := s.Indices[s.Indptr[i]:s.Indptr[i+1]]
		for k := 1; k < len(seg); k++ {
			if seg[k] < seg[k-1] {
				return false
			}
		}
	}
	return true
}

// SortIndices returns a copy with indices sorted within each major segment.
func (s *Sparse) SortIndices() *Sparse {
	out := &Sparse{Format: s.Format, Rows: s.Rows, Cols: s.Cols, Indptr: s.Indptr}
	perm := make([]int, len(s.Indices))
	for i := 0; i+1 < len(s.Indptr); i++ {
		lo, hi := int(s.Indptr[i]), int(s.Indptr[i+1])
		seg := perm[lo:hi]
		for k := range seg {
			seg[k] = lo + k
		}
		sort.SliceStable(seg, func(a, b int) bool { return s.Indices[seg[a]] < s.Indices[seg[b]] })
	}
	out.Indices = take(s.Indices, perm)
	out.Data = s.Data.Take(perm)
	return out
}

// Transpose swaps the axes without moving data: a CSR matrix becomes the CSC
// matrix of its transpose and vice versa.
func (s *Sparse) Transpose() *Sparse {
	f := CSC
	if s.Format == CSC {
		f = CSR
	}
	return &Sparse{Format: f, Rows: s.Cols, Cols: s.Rows, Indptr: s.Indptr, Indices: s.Indices, Data: s.Data}
}

// convert re-compresses along the other axis. Output indices are sorted.
func (s *Sparse) convert() *Sparse {
	major, minor := s.dims()
	counts := make([]int64, minor+1)
	for _, j := range s.Indices {
		counts[j+1]++
	}
	for j := 0; j < minor; j++ {
		counts[j+1] += counts[j]
	}
	indptr := append([]int64(nil), counts...)
	next := counts[:minor]
	indices := make([]int64, len(s.Indices))
	perm := make([]int, len(s.Indices))
	for i := 0; i < major; i++ {
		for k := s.Indptr[i]; k < s.Indptr[i+1]; k++ {
			j := s.Indices[k]
			dst := next[j]
			next[j]++
			indices[dst] = int64(i)
			perm[dst] = int(k)
		}
	}
	f := CSC
	if s.Format == CSC {
		f = CSR
	}
	return &Sparse{Format: f, Rows: s.Rows, Cols: s.Cols, Indptr: indptr, Indices: indices, Data: s.Data.Take(perm)}
}

// ToCSR returns s in CSR layout.
func (s *Sparse) ToCSR() *Sparse {
	if s.Format == CSR {
		return s
	}
	return s.convert()
}

// ToCSC returns s in CSC layout.
func (s *Sparse) ToCSC() *Sparse {
	if s.Format == CSC {
		return s
	}
	return s.convert()
}

// ToDense materializes s. Missing entries are zero.
func (s *Sparse) ToDense() *Dense {
	data, _ := NewArray(s.DType(), s.Rows*s.Cols)
	idx := make([]int, s.Rows*s.Cols)
	for i := range idx {
		idx[i] = -1
	}
	major, _ := s.dims()
	for i := 0; i < major; i++ {
		for k := s.Indptr[i]; k < s.Indptr[i+1]; k++ {
			r, c := i, int(s.Indices[k])
			if s.Format == CSC {
				r, c = c, i
			}
			idx[r*s.Cols+c] = int(k)
		}
	}
	return &Dense{Rows: s.Rows, Cols: s.Cols, Data: scatter(data, s.Data, idx)}
}

// scatter returns dst with dst[i] = src[idx[i]] for idx[i] >= 0.
func scatter(dst, src Array, idx []int) Array {
	keep := make([]int, 0, len(idx))
	pos := make([]int, 0, len(idx))
	for i, k := range idx {
		if k >= 0 {
			keep = append(keep, k)
			pos = append(pos, i)
		}
	}
	vals := src.Take(keep)
	switch d := dst.(type) {
	case Int32s:
		put(d, pos, vals.(Int32s))
	case Int64s:
		put(d, pos, vals.(Int64s))
	case Uint32s:
		put(d, pos, vals.(Uint32s))
	case Float32s:
		put(d, pos, vals.(Float32s))
	case Float64s:
		put(d, pos, vals.(Float64s))
	case Bools:
		put(d, pos, vals.(Bools))
	case Strings:
		put(d, pos, vals.(Strings))
	}
	return dst
}

func put[T any](dst []T, pos []int, vals []T) {
	for i, p := range pos {
		dst[p] = vals[i]
	}
}

// Select returns the given rows and columns; nil keeps an axis. Index
// order is preserved, so Select also permutes.
func (s *Sparse) Select(rows, cols []int) *Sparse {
	if s.Format == CSC {
		return s.Transpose().Select(cols, rows).Transpose()
	}
	out := &Sparse{Format: CSR, Rows: s.Rows, Cols: s.Cols}
	if rows == nil {
		rows = seq(0, s.Rows)
	}
	out.Rows = len(rows)

	var colMap []int
	if cols != nil {
		colMap = make([]int, s.Cols)
		for i := range colMap {
			colMap[i] = -1
		}
		for i, c := range cols {
			colMap[c] = i
		}
		out.Cols = len(cols)
	}

	out.Indptr = make([]int64, 1, len(rows)+1)
	var keep []int
	for _, r := range rows {
		for k := s.Indptr[r]; k < s.Indptr[r+1]; k++ {
			j := s.Indices[k]
			if colMap != nil {
				if colMap[j] < 0 {
					continue
				}
				j = int64(colMap[j])
			}
			out.Indices = append(out.Indices, j)
			keep = append(keep, int(k))
		}
		out.Indptr = append(out.Indptr, int64(len(out.Indices)))
	}
	out.Data = s.Data.Take(keep)
	if out.Indices == nil {
		out.Indices = []int64{}
	}
	if cols != nil && !out.Sorted() {
		out = out.SortIndices()
	}
	return out
}

// RemapCols moves column j to colMap[j] in a matrix of newCols columns,
// dropping columns mapped to -1.
func (s *Sparse) RemapCols(colMap []int, newCols int) *Sparse {
	csr := s.ToCSR()
	out := &Sparse{Format: CSR, Rows: csr.Rows, Cols: newCols, Indptr: make([]int64, 1, csr.Rows+1)}
	var keep []int
	for r := 0; r < csr.Rows; r++ {
		for k := csr.Indptr[r]; k < csr.Indptr[r+1]; k++ {
			nw := colMap[csr.Indices[k]]
			if nw < 0 {
				continue
			}
			out.Indices = append(out.Indices, int64(nw))
			keep = append(keep, int(k))
		}
		out.Indptr = append(out.Indptr, int64(len(out.Indices)))
	}
	if out.Indices == nil {
		out.Indices = []int64{}
	}
	out.Data = csr.Data.Take(keep)
	if !out.Sorted() {
		out = out.SortIndices()
	}
	return out
}

// VStack stacks sparse matrices with equal column counts into one CSR
// matrix.
func VStack(mats ...*Sparse) (*Sparse, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrTypeMismatch)
	}
	out := &Sparse{Format: CSR, Cols: mats[0].Cols, Indptr: []int64{0}}
	parts := make([]Array, 0, len(mats))
	for _, m := range mats {
		if m.Cols != out.Cols {
			return nil, &LengthMismatchError{What: "stacked columns", Want: int64(out.Cols), Got: int64(m.Cols)}
		}
		csr := m.ToCSR()
		base := out.Indptr[len(out.Indptr)-1]
		for _, p := range csr.Indptr[1:] {
			out.Indptr = append(out.Indptr, base+p)
		}
		out.Indices = append(out.Indices, csr.Indices...)
		out.Rows += csr.Rows
		parts = append(parts, csr.Data)
	}
	data, err := Concat(parts...)
	if err != nil {
		return nil, err
	}
	if out.Indices == nil {
		out.Indices = []int64{}
	}
	out.Data = data
	return out, nil
}

// CSRFromTriples builds a CSR matrix from coordinate entries. Duplicate
// coordinates of numeric data are summed.
func CSRFromTriples(rows, cols int, r, c []int64, data Array) (*Sparse, error) {
	if len(r) != len(c) || len(r) != data.Len() {
		return nil, &LengthMismatchError{What: "triples", Want: int64(len(r)), Got: int64(data.Len())}
	}
	for i := range r {
		if r[i] < 0 || r[i] >= int64(rows) || c[i] < 0 || c[i] >= int64(cols) {
			return nil, fmt.Errorf("%w: entry (%d, %d) outside %dx%d", ErrOutOfRange, r[i], c[i], rows, cols)
		}
	}
	counts := make([]int64, rows+1)
	for _, x := range r {
		counts[x+1]++
	}
	for i := 0; i < rows; i++ {
		counts[i+1] += counts[i]
	}
	indptr := append([]int64(nil), counts...)
	next := counts[:rows]
	indices := make([]int64, len(c))
	perm := make([]int, len(c))
	for k := range r {
		dst := next[r[k]]
		next[r[k]]++
		indices[dst] = c[k]
		perm[dst] = k
	}
	out := &Sparse{Format: CSR, Rows: rows, Cols: cols, Indptr: indptr, Indices: indices, Data: data.Take(perm)}
	if !out.Sorted() {
		out = out.SortIndices()
	}
	return sumDuplicates(out), nil
}

func sumDuplicates(s *Sparse) *Sparse {
	dup := false
	for i := 0; i+1 < len(s.Indptr) && !dup; i++ {
		for k := s.Indptr[i] + 1; k < s.Indptr[i+1]; k++ {
			if s.Indices[k] == s.Indices[k-1] {
				dup = true
				break
			}
		}
	}
	if !dup {
		return s
	}
	switch d := s.Data.(type) {
	case Int32s:
		return mergeDups(s, d, func(v []int32) Array { return Int32s(v) })
	case Int64s:
		return mergeDups(s, d, func(v []int64) Array { return Int64s(v) })
	case Uint32s:
		return mergeDups(s, d, func(v []uint32) Array { return Uint32s(v) })
	case Float32s:
		return mergeDups(s, d, func(v []float32) Array { return Float32s(v) })
	case Float64s:
		return mergeDups(s, d, func(v []float64) Array { return Float64s(v) })
	default:
		return s
	}
}

func mergeDups[T number](s *Sparse, data []T, wrap func([]T) Array) *Sparse {
	out := &Sparse{Format: s.Format, Rows: s.Rows, Cols: s.Cols, Indptr: make([]int64, 1, len(s.Indptr))}
	vals := make([]T, 0, len(data))
	for i := 0; i+1 < len(s.Indptr); i++ {
		start := len(out.Indices)
		for k := s.Indptr[i]; k < s.Indptr[i+1]; k++ {
			if len(out.Indices) > start && out.Indices[len(out.Indices)-1] == s.Indices[k] {
				vals[len(vals)-1] += data[k]
				continue
			}
			out.Indices = append(out.Indices, s.Indices[k])
			vals = append(vals, data[k])
		}
		out.Indptr = append(out.Indptr, int64(len(out.Indices)))
	}
	out.Data = wrap(vals)
	return out
}

func seq(lo, hi int) []int {
	out := make([]int, hi-lo)
	for i := range out {
		out[i] = lo + i
	}
	return out
}
