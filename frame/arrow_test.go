package frame

import (
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/anndata/cas"
)

func TestArrowRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()

	f := testFrame(t)
	require.NoError(t, f.AppendColumn("qc", []bool{true, false, true, true}))

	for _, tc := range []struct {
		name string
		opts []ArrowOption
	}{
		{"dictionary", nil},
		{"plain", []ArrowOption{WithPlainCategoricals()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := f.ToArrow(mem, tc.opts...)
			require.NoError(t, err)
			defer rec.Release()

			assert.Equal(t, int64(4), rec.NumRows())
			assert.Equal(t, DefaultIndexName, rec.ColumnName(0))

			got, err := FromArrow(rec)
			require.NoError(t, err)
			assert.Equal(t, f.Index(), got.Index())
			assert.Equal(t, f.Names(), got.Names())

			n, _ := got.Column("n_genes")
			assert.Equal(t, cas.Int64s{10, 20, 30, 40}, n.(*Numeric).Data)
			qc, _ := got.Column("qc")
			assert.Equal(t, cas.Bools{true, false, true, true}, qc.(*Numeric).Data)
			ct, _ := got.Column("cell_type")
			require.Equal(t, KindCategorical, ct.Kind())
			assert.Equal(t, []string{"B", "T", "B", "NK"}, ct.(*Categorical).Values())
		})
	}
}

func TestFromArrowWithoutIndex(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues([]float64{1, 2}, []bool{true, false})
	col := b.NewArray()
	defer col.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{col}, 2)
	defer rec.Release()

	f, err := FromArrow(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, f.Index())
	v, _ := f.Column("v")
	data := v.(*Numeric).Data.(cas.Float64s)
	assert.Equal(t, 1.0, data[0])
	assert.NotEqual(t, data[1], data[1], "null becomes NaN")
}
