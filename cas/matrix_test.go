package cas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDense returns a 6x5 matrix whose rows hold 0, 1, 3, 0, 5 and 2
// nonzeros.
func testDense() *Dense {
	return &Dense{Rows: 6, Cols: 5, Data: Float32s{
		0, 0, 0, 0, 0,
		0, 0, 1.5, 0, 0,
		2, 0, 3, 0, 4,
		0, 0, 0, 0, 0,
		5, 6, 7, 8, 9,
		0, 10, 0, 0, 11,
	}}
}

func denseToCSR(t *testing.T, d *Dense) *Sparse {
	t.Helper()
	var r, c []int64
	var v Float32s
	data := d.Data.(Float32s)
	for i := 0; i < d.Rows; i++ {
		for j := 0; j < d.Cols; j++ {
			if x := data[i*d.Cols+j]; x != 0 {
				r = append(r, int64(i))
				c = append(c, int64(j))
				v = append(v, x)
			}
		}
	}
	sp, err := CSRFromTriples(d.Rows, d.Cols, r, c, v)
	require.NoError(t, err)
	return sp
}

func TestSparseRoundTripLayouts(t *testing.T) {
	d := testDense()
	csr := denseToCSR(t, d)
	require.NoError(t, csr.Validate())
	assert.Equal(t, 11, csr.NNZ())
	assert.Equal(t, []int64{0, 0, 1, 4, 4, 9, 11}, csr.Indptr)

	csc := csr.ToCSC()
	require.NoError(t, csc.Validate())
	assert.Equal(t, CSC, csc.Format)
	assert.Len(t, csc.Indptr, 6)
	assert.True(t, csc.Sorted())

	assert.Equal(t, d, csr.ToDense())
	assert.Equal(t, d, csc.ToDense())
	assert.Equal(t, csr, csc.ToCSR())
}

func TestCSRFromTriplesSumsDuplicates(t *testing.T) {
	sp, err := CSRFromTriples(2, 3,
		[]int64{1, 0, 1, 1},
		[]int64{2, 1, 0, 2},
		Int32s{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 3}, sp.Indptr)
	assert.Equal(t, []int64{1, 0, 2}, sp.Indices)
	assert.Equal(t, Int32s{2, 3, 5}, sp.Data)

	_, err = CSRFromTriples(2, 2, []int64{2}, []int64{0}, Int32s{1})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSparseValidate(t *testing.T) {
	sp := denseToCSR(t, testDense())
	sp.Indices[0] = 9
	assert.ErrorIs(t, sp.Validate(), ErrOutOfRange)

	short := &Sparse{Format: CSR, Rows: 2, Cols: 2, Indptr: []int64{0, 0}, Indices: []int64{}, Data: Float32s{}}
	assert.ErrorIs(t, short.Validate(), ErrLengthMismatch)
}

func TestSparseSelect(t *testing.T) {
	d := testDense()
	for _, sp := range []*Sparse{denseToCSR(t, d), denseToCSR(t, d).ToCSC()} {
		t.Run(sp.Format.String(), func(t *testing.T) {
			rows := []int{5, 2, 0}
			cols := []int{4, 0, 2}
			got := sp.Select(rows, cols)
			assert.Equal(t, sp.Format, got.Format)
			assert.Equal(t, d.Select(rows, cols), got.ToDense())
		})
	}
}

func TestSparseRemapCols(t *testing.T) {
	d := testDense()
	sp := denseToCSR(t, d)
	// reverse the columns into a 6-column space and drop column 1
	colMap := []int{5, -1, 3, 2, 1}
	got := sp.RemapCols(colMap, 6)
	require.NoError(t, got.Validate())
	assert.True(t, got.Sorted())

	want := d.Select(nil, []int{-1, 4, 3, 2, -1, 0})
	gd := got.ToDense().Data.(Float32s)
	wd := want.Data.(Float32s)
	for i := range wd {
		if wd[i] != wd[i] { // NaN marks an absent column
			assert.Zero(t, gd[i])
			continue
		}
		assert.Equal(t, wd[i], gd[i], "element %d", i)
	}
}

func TestVStack(t *testing.T) {
	d := testDense()
	a := denseToCSR(t, d).Select([]int{0, 1, 2}, nil)
	b := denseToCSR(t, d).ToCSC().Select([]int{3, 4, 5}, nil)

	out, err := VStack(a, b)
	require.NoError(t, err)
	assert.Equal(t, d, out.ToDense())

	_, err = VStack(a, &Sparse{Format: CSR, Cols: 2, Indptr: []int64{0}, Data: Float32s{}})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	dd, err := VStackDense(d.Select([]int{0, 1}, nil), d.Select([]int{2, 3, 4, 5}, nil))
	require.NoError(t, err)
	assert.Equal(t, d, dd)
}

func TestDenseSelect(t *testing.T) {
	d := testDense()
	got := d.Select([]int{4}, []int{1, 3})
	assert.Equal(t, &Dense{Rows: 1, Cols: 2, Data: Float32s{6, 8}}, got)
	assert.Equal(t, float32(3), d.At(2, 2))
	assert.Equal(t, Float32s{0, 10, 0, 0, 11}, d.Row(5))
}

func TestRangeResolve(t *testing.T) {
	r, err := All().resolve("/X", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, Span(0, 10), r)

	_, err = Span(3, 11).resolve("/X", 1, 10)
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 1, oor.Axis)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Span(5, 4).resolve("/X", 0, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
