package cas

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/anndata/internal/chunk"
	"github.com/hupe1980/anndata/internal/manifest"
)

// span is a half-open element interval of a component.
type span struct{ lo, hi int64 }

// readElems reads elements [lo, hi) of a component.
func readElems(ctx context.Context, r *chunk.Reader, dt DType, lo, hi int64) (Array, error) {
	return readSpans(ctx, r, dt, []span{{lo, hi}})
}

// readSpans reads the given ascending, non-overlapping element spans and
// returns their concatenation. Only chunks covering a span are fetched;
// adjacent chunks are fetched with one ranged read.
func readSpans(ctx context.Context, r *chunk.Reader, dt DType, spans []span) (Array, error) {
	total := int64(0)
	var needed []int
	for _, sp := range spans {
		if sp.lo < 0 || sp.hi > r.Len() || sp.lo > sp.hi {
			return nil, fmt.Errorf("%w: elements [%d, %d) of %d", ErrOutOfRange, sp.lo, sp.hi, r.Len())
		}
		if sp.lo == sp.hi {
			continue
		}
		total += sp.hi - sp.lo
		first, last := r.ChunkSpan(sp.lo, sp.hi)
		for c := first; c <= last; c++ {
			if len(needed) == 0 || needed[len(needed)-1] < c {
				needed = append(needed, c)
			}
		}
	}
	if total == 0 {
		return NewArray(dt, 0)
	}

	raw := make(map[int][]byte, len(needed))
	for i := 0; i < len(needed); {
		j := i
		for j+1 < len(needed) && needed[j+1] == needed[j]+1 {
			j++
		}
		chunks, err := r.ReadChunks(ctx, needed[i], needed[j])
		if err != nil {
			return nil, translate(err)
		}
		for k, b := range chunks {
			raw[needed[i]+k] = b
		}
		i = j + 1
	}

	cl := r.ChunkLen()
	parts := make([]Array, 0, len(needed))
	for _, sp := range spans {
		for lo := sp.lo; lo < sp.hi; {
			c := int(lo / cl)
			base := int64(c) * cl
			hi := min(sp.hi, base+cl)
			a, err := decodeElems(dt, raw[c], int(r.ChunkElems(c)), int(lo-base), int(hi-base))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptFormat, err)
			}
			parts = append(parts, a)
			lo = hi
		}
	}
	return Concat(parts...)
}

func (s *Store) component(ctx context.Context, n *manifest.Node, role string) (*chunk.Reader, error) {
	c, ok := componentOf(n, role)
	if !ok {
		return nil, corruptf("%s: missing %s component", n.Path, role)
	}
	return s.reader(ctx, n, c)
}

func (s *Store) readComponent(ctx context.Context, n *manifest.Node, role string, spans []span) (Array, error) {
	r, err := s.component(ctx, n, role)
	if err != nil {
		return nil, err
	}
	return readSpans(ctx, r, componentDType(n, role), spans)
}

// ReadSlice reads the sub-matrix rows x cols of a dense or sparse node.
// 1-D dense nodes are treated as single-column matrices. The result keeps
// the node's layout: *Dense for dense nodes, *Sparse in the stored encoding
// for sparse nodes.
func (s *Store) ReadSlice(ctx context.Context, p string, rows, cols Range) (Matrix, error) {
	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if k := Kind(n.Kind); k != KindDense && k != KindSparse {
		return nil, fmt.Errorf("%w: %s is %s, not a matrix", ErrTypeMismatch, n.Path, k)
	}
	nr, nc := int(n.Shape[0]), 1
	if len(n.Shape) == 2 {
		nc = int(n.Shape[1])
	}
	if rows, err = rows.resolve(n.Path, 0, nr); err != nil {
		return nil, err
	}
	if cols, err = cols.resolve(n.Path, 1, nc); err != nil {
		return nil, err
	}

	if Kind(n.Kind) == KindDense {
		return s.readDense(ctx, n, nc, rows, cols)
	}
	if Encoding(n.Encoding) == CSC {
		out, err := s.readCompressed(ctx, n, cols, rows, nr)
		if err != nil {
			return nil, err
		}
		out.Format = CSC
		out.Rows, out.Cols = rows.Len(), cols.Len()
		return out, nil
	}
	out, err := s.readCompressed(ctx, n, rows, cols, nc)
	if err != nil {
		return nil, err
	}
	out.Format = CSR
	out.Rows, out.Cols = rows.Len(), cols.Len()
	return out, nil
}

func (s *Store) readDense(ctx context.Context, n *manifest.Node, nc int, rows, cols Range) (*Dense, error) {
	var spans []span
	if cols.Lo == 0 && cols.Hi == nc {
		spans = []span{{int64(rows.Lo * nc), int64(rows.Hi * nc)}}
	} else {
		spans = make([]span, 0, rows.Len())
		for r := rows.Lo; r < rows.Hi; r++ {
			base := int64(r * nc)
			spans = append(spans, span{base + int64(cols.Lo), base + int64(cols.Hi)})
		}
	}
	data, err := s.readComponent(ctx, n, roleData, spans)
	if err != nil {
		return nil, err
	}
	return &Dense{Rows: rows.Len(), Cols: cols.Len(), Data: data}, nil
}

// readCompressed slices a compressed matrix along its major axis and
// filters each major segment to the minor range by binary search over the
// sorted minor indices. Only the indices covering the major range and the
// data entries that survive the filter are read.
func (s *Store) readCompressed(ctx context.Context, n *manifest.Node, major, minor Range, minorLen int) (*Sparse, error) {
	ip, err := s.readComponent(ctx, n, roleIndptr, []span{{int64(major.Lo), int64(major.Hi + 1)}})
	if err != nil {
		return nil, err
	}
	indptr := ip.(Int64s)
	nnzLo, nnzHi := indptr[0], indptr[len(indptr)-1]
	if nnzLo > nnzHi {
		return nil, corruptf("%s: indptr decreases", n.Path)
	}

	out := &Sparse{Indptr: make([]int64, 1, major.Len()+1)}
	fullMinor := minor.Lo == 0 && minor.Hi == minorLen

	ix, err := s.readComponent(ctx, n, roleIndices, []span{{nnzLo, nnzHi}})
	if err != nil {
		return nil, err
	}
	indices := ix.(Int64s)

	if fullMinor {
		for _, p := range indptr[1:] {
			if p < nnzLo || p > nnzHi {
				return nil, corruptf("%s: indptr out of order", n.Path)
			}
			out.Indptr = append(out.Indptr, p-nnzLo)
		}
		out.Indices = indices
		out.Data, err = s.readComponent(ctx, n, roleData, []span{{nnzLo, nnzHi}})
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	var spans []span
	out.Indices = []int64{}
	lo64, hi64 := int64(minor.Lo), int64(minor.Hi)
	for i := 0; i < major.Len(); i++ {
		a, b := indptr[i]-nnzLo, indptr[i+1]-nnzLo
		if a < 0 || b < a || b > int64(len(indices)) {
			return nil, corruptf("%s: indptr out of order", n.Path)
		}
		seg := indices[a:b]
		from := sort.Search(len(seg), func(k int) bool { return seg[k] >= lo64 })
		to := sort.Search(len(seg), func(k int) bool { return seg[k] >= hi64 })
		for _, j := range seg[from:to] {
			out.Indices = append(out.Indices, j-lo64)
		}
		out.Indptr = append(out.Indptr, int64(len(out.Indices)))
		if to > from {
			abs := nnzLo + a
			sp := span{abs + int64(from), abs + int64(to)}
			if len(spans) > 0 && spans[len(spans)-1].hi == sp.lo {
				spans[len(spans)-1].hi = sp.hi
			} else {
				spans = append(spans, sp)
			}
		}
	}
	out.Data, err = s.readComponent(ctx, n, roleData, spans)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadArray reads elements [lo, hi) of a 1-D dense node. hi < 0 reads to
// the end.
func (s *Store) ReadArray(ctx context.Context, p string, lo, hi int) (Array, error) {
	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if Kind(n.Kind) != KindDense || len(n.Shape) != 1 {
		return nil, fmt.Errorf("%w: %s is not a 1-D array", ErrTypeMismatch, n.Path)
	}
	r, err := Range{lo, hi}.resolve(n.Path, 0, int(n.Shape[0]))
	if err != nil {
		return nil, err
	}
	return s.readComponent(ctx, n, roleData, []span{{int64(r.Lo), int64(r.Hi)}})
}

// ReadScalar reads a scalar node.
func (s *Store) ReadScalar(ctx context.Context, p string) (Scalar, error) {
	n, err := s.lookup(p)
	if err != nil {
		return Scalar{}, err
	}
	if Kind(n.Kind) != KindScalar {
		return Scalar{}, fmt.Errorf("%w: %s is not a scalar", ErrTypeMismatch, n.Path)
	}
	a, err := s.readComponent(ctx, n, roleData, []span{{0, 1}})
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{Data: a}, nil
}

// ReadCategorical reads rows [lo, hi) of a categorical node together with
// its full dictionary. hi < 0 reads to the end.
func (s *Store) ReadCategorical(ctx context.Context, p string, lo, hi int) (*Categorical, error) {
	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if Kind(n.Kind) != KindCategorical {
		return nil, fmt.Errorf("%w: %s is not categorical", ErrTypeMismatch, n.Path)
	}
	r, err := Range{lo, hi}.resolve(n.Path, 0, int(n.Shape[0]))
	if err != nil {
		return nil, err
	}
	cats, _ := componentOf(n, roleCategories)
	dict, err := s.readComponent(ctx, n, roleCategories, []span{{0, cats.Length}})
	if err != nil {
		return nil, err
	}
	codes, err := s.readComponent(ctx, n, roleCodes, []span{{int64(r.Lo), int64(r.Hi)}})
	if err != nil {
		return nil, err
	}
	c := &Categorical{Categories: dict.(Strings), Codes: codes.(Int32s)}
	if err := c.Validate(); err != nil {
		return nil, corruptf("%s: %w", n.Path, err)
	}
	return c, nil
}

// ReadAll materializes a node: *Dense or *Sparse for matrices, Array for
// 1-D dense nodes, Scalar, or *Categorical.
func (s *Store) ReadAll(ctx context.Context, p string) (any, error) {
	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	var (
		v   any
		rerr error
	)
	switch Kind(n.Kind) {
	case KindDense:
		if len(n.Shape) == 1 {
			v, rerr = s.ReadArray(ctx, p, 0, -1)
		} else {
			v, rerr = s.ReadSlice(ctx, p, All(), All())
		}
	case KindSparse:
		v, rerr = s.ReadSlice(ctx, p, All(), All())
	case KindScalar:
		v, rerr = s.ReadScalar(ctx, p)
	case KindCategorical:
		v, rerr = s.ReadCategorical(ctx, p, 0, -1)
	default:
		return nil, fmt.Errorf("%w: %s is a %s", ErrTypeMismatch, n.Path, Kind(n.Kind))
	}
	if rerr != nil {
		return nil, rerr
	}
	return v, nil
}

// Take reads the given rows and columns of an array node. Indices must be
// ascending; nil selects a whole axis. Contiguous runs are read as one
// slice each, so the cost follows the selection, not the node size.
// Columns apply to 2-D nodes only.
func (s *Store) Take(ctx context.Context, p string, rows, cols []int) (any, error) {
	info, err := s.Node(p)
	if err != nil {
		return nil, err
	}
	if err := checkAscending(info, 0, rows); err != nil {
		return nil, err
	}
	if err := checkAscending(info, 1, cols); err != nil {
		return nil, err
	}

	switch info.Kind {
	case KindCategorical:
		c, err := s.ReadCategorical(ctx, p, 0, -1)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			return c, nil
		}
		return c.Take(rows), nil
	case KindDense:
		if len(info.Shape) == 1 {
			if cols != nil {
				return nil, fmt.Errorf("%w: column selection on 1-D node %s", ErrTypeMismatch, info.Path)
			}
			var parts []Array
			for _, r := range runs(rows, int(info.Shape[0])) {
				a, err := s.ReadArray(ctx, p, r.Lo, r.Hi)
				if err != nil {
					return nil, err
				}
				parts = append(parts, a)
			}
			if len(parts) == 0 {
				return NewArray(info.DType, 0)
			}
			return Concat(parts...)
		}
		return s.takeMatrix(ctx, info, rows, cols)
	case KindSparse:
		return s.takeMatrix(ctx, info, rows, cols)
	default:
		return nil, fmt.Errorf("%w: cannot select from %s %s", ErrTypeMismatch, info.Kind, info.Path)
	}
}

func (s *Store) takeMatrix(ctx context.Context, info NodeInfo, rows, cols []int) (Matrix, error) {
	colRange := All()
	var local []int
	if cols != nil {
		if len(cols) == 0 {
			colRange = Span(0, 0)
		} else {
			colRange = Span(cols[0], cols[len(cols)-1]+1)
			local = make([]int, len(cols))
			for i, c := range cols {
				local[i] = c - cols[0]
			}
		}
	}

	// Sparse nodes stored as CSC are sliced along columns first.
	if info.Kind == KindSparse && info.Encoding == CSC {
		m, err := s.ReadSlice(ctx, info.Path, All(), colRange)
		if err != nil {
			return nil, err
		}
		return m.(*Sparse).Select(rows, local), nil
	}

	var parts []Matrix
	for _, r := range runs(rows, int(info.Shape[0])) {
		m, err := s.ReadSlice(ctx, info.Path, r, colRange)
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		nc := colRange.Hi
		if nc < 0 {
			nc = int(info.Cols())
		}
		nc -= colRange.Lo
		if cols != nil {
			nc = len(cols)
		}
		if info.Kind == KindSparse {
			return &Sparse{Format: CSR, Cols: nc, Indptr: []int64{0}, Indices: []int64{}, Data: mustEmpty(info.DType)}, nil
		}
		return &Dense{Cols: nc, Data: mustEmpty(info.DType)}, nil
	}

	if info.Kind == KindDense {
		ds := make([]*Dense, len(parts))
		for i, m := range parts {
			ds[i] = m.(*Dense)
		}
		d, err := VStackDense(ds...)
		if err != nil {
			return nil, err
		}
		if local != nil {
			d = d.Select(nil, local)
		}
		return d, nil
	}

	sp := make([]*Sparse, len(parts))
	for i, m := range parts {
		sp[i] = m.(*Sparse)
	}
	out, err := VStack(sp...)
	if err != nil {
		return nil, err
	}
	if local != nil {
		out = out.Select(nil, local)
	}
	return out, nil
}

func mustEmpty(dt DType) Array {
	a, _ := NewArray(dt, 0)
	return a
}

func checkAscending(info NodeInfo, axis int, idx []int) error {
	if idx == nil {
		return nil
	}
	n := info.Rows()
	if axis == 1 {
		n = info.Cols()
	}
	for i, v := range idx {
		if v < 0 || int64(v) >= n || (i > 0 && v <= idx[i-1]) {
			return &OutOfRangeError{Path: info.Path, Axis: axis, Lo: int64(v), Hi: int64(v) + 1, Len: n}
		}
	}
	return nil
}

// runs groups ascending indices into contiguous ranges. nil means [0, n).
func runs(idx []int, n int) []Range {
	if idx == nil {
		if n == 0 {
			return nil
		}
		return []Range{{0, n}}
	}
	var out []Range
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && idx[j+1] == idx[j]+1 {
			j++
		}
		out = append(out, Range{idx[i], idx[j] + 1})
		i = j + 1
	}
	return out
}
