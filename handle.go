package anndata

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

// Element is a handle to a stored element. Nothing is read until Read.
type Element struct {
	st      *cas.Store
	info    cas.NodeInfo
	metrics MetricsCollector
}

// Path returns the element's path in the container.
func (e *Element) Path() string { return e.info.Path }

// Info describes the element without reading it.
func (e *Element) Info() cas.NodeInfo { return e.info }

// Read materializes the element. Dataframe groups load as *frame.Frame;
// other values are returned as cas.ReadAll does. Plain groups fail with
// ErrTypeMismatch.
func (e *Element) Read(ctx context.Context) (any, error) {
	if e.info.Kind == cas.KindGroup {
		tbl, err := frame.OpenTable(e.st, e.info.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is a group", ErrTypeMismatch, e.info.Path)
		}
		return tbl.Load(ctx)
	}
	return e.st.ReadAll(ctx, e.info.Path)
}

// Matrix returns the element as a matrix handle. 1-D arrays are viewed as
// single-column matrices.
func (e *Element) Matrix() (*MatrixHandle, error) {
	switch e.info.Kind {
	case cas.KindDense, cas.KindSparse:
		return &MatrixHandle{Element: *e}, nil
	default:
		return nil, fmt.Errorf("%w: %s is a %s, not a matrix", ErrTypeMismatch, e.info.Path, e.info.Kind)
	}
}

// MatrixHandle is a lazily read matrix.
type MatrixHandle struct {
	Element
}

// Shape returns (rows, cols).
func (m *MatrixHandle) Shape() (int, int) {
	return int(m.info.Rows()), int(m.info.Cols())
}

// DType returns the element type.
func (m *MatrixHandle) DType() cas.DType { return m.info.DType }

// Encoding returns the sparse layout, or EncodingNone for dense matrices.
func (m *MatrixHandle) Encoding() cas.Encoding { return m.info.Encoding }

// ReadSlice reads the half-open block rows x cols.
func (m *MatrixHandle) ReadSlice(ctx context.Context, rows, cols cas.Range) (cas.Matrix, error) {
	start := time.Now()
	v, err := m.st.ReadSlice(ctx, m.info.Path, rows, cols)
	n := 0
	if err == nil {
		n, _ = v.Shape()
	}
	m.metrics.RecordSlice(n, time.Since(start), err)
	return v, err
}

// Read materializes the whole matrix.
func (m *MatrixHandle) Read(ctx context.Context) (cas.Matrix, error) {
	return m.ReadSlice(ctx, cas.All(), cas.All())
}

// ReadRows reads rows [lo, hi) across all columns.
func (m *MatrixHandle) ReadRows(ctx context.Context, lo, hi int) (cas.Matrix, error) {
	return m.ReadSlice(ctx, cas.Span(lo, hi), cas.All())
}

// Take reads the given ascending rows and columns; nil selects a whole axis.
func (m *MatrixHandle) Take(ctx context.Context, rows, cols []int) (cas.Matrix, error) {
	start := time.Now()
	v, err := m.st.Take(ctx, m.info.Path, rows, cols)
	var mat cas.Matrix
	if err == nil {
		var ok bool
		if mat, ok = v.(cas.Matrix); !ok {
			err = fmt.Errorf("%w: %s is not 2-D", ErrTypeMismatch, m.info.Path)
		}
	}
	n := 0
	if mat != nil {
		n, _ = mat.Shape()
	}
	m.metrics.RecordSlice(n, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return mat, nil
}
