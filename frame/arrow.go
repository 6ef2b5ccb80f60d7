package frame

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/hupe1980/anndata/cas"
)

// Schema metadata keys written by ToArrow.
const (
	MetaIndex       = "anndata:index"
	MetaCategorical = "anndata:categorical"
	MetaOrdered     = "anndata:ordered"
)

type arrowOptions struct {
	plainCategoricals bool
	indexName         string
}

// ArrowOption configures ToArrow.
type ArrowOption func(*arrowOptions)

// WithPlainCategoricals writes categorical columns as string arrays tagged
// with field metadata instead of dictionary arrays.
func WithPlainCategoricals() ArrowOption {
	return func(o *arrowOptions) { o.plainCategoricals = true }
}

// WithIndexName sets the name of the index column. Defaults to "_index".
func WithIndexName(name string) ArrowOption {
	return func(o *arrowOptions) { o.indexName = name }
}

// ToArrow converts the frame to a record whose first column is the index.
// The caller releases the record.
func (f *Frame) ToArrow(mem memory.Allocator, opts ...ArrowOption) (arrow.Record, error) {
	o := arrowOptions{indexName: DefaultIndexName}
	for _, opt := range opts {
		opt(&o)
	}

	fields := make([]arrow.Field, 0, len(f.names)+1)
	cols := make([]arrow.Array, 0, len(f.names)+1)
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	sb := array.NewStringBuilder(mem)
	sb.AppendValues(f.index, nil)
	cols = append(cols, sb.NewArray())
	sb.Release()
	fields = append(fields, arrow.Field{Name: o.indexName, Type: arrow.BinaryTypes.String})

	for _, name := range f.names {
		field, arr, err := toArrowColumn(mem, name, f.cols[name], o)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		cols = append(cols, arr)
	}

	md := arrow.NewMetadata([]string{MetaIndex}, []string{o.indexName})
	schema := arrow.NewSchema(fields, &md)
	return array.NewRecord(schema, cols, int64(f.Len())), nil
}

func toArrowColumn(mem memory.Allocator, name string, c Column, o arrowOptions) (arrow.Field, arrow.Array, error) {
	switch x := c.(type) {
	case *Numeric:
		arr, typ, err := numericToArrow(mem, x.Data)
		if err != nil {
			return arrow.Field{}, nil, err
		}
		return arrow.Field{Name: name, Type: typ, Nullable: true}, arr, nil
	case *String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(x.Values, nil)
		return arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}, b.NewArray(), nil
	case *Categorical:
		valid := make([]bool, x.Len())
		for i, code := range x.codes {
			valid[i] = code >= 0
		}
		ordered := "false"
		if x.Ordered {
			ordered = "true"
		}
		if o.plainCategoricals {
			b := array.NewStringBuilder(mem)
			defer b.Release()
			b.AppendValues(x.Values(), valid)
			md := arrow.NewMetadata([]string{MetaCategorical, MetaOrdered}, []string{"true", ordered})
			return arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true, Metadata: md}, b.NewArray(), nil
		}

		ib := array.NewInt32Builder(mem)
		defer ib.Release()
		ib.AppendValues(x.codes, valid)
		indices := ib.NewArray()
		defer indices.Release()

		db := array.NewStringBuilder(mem)
		defer db.Release()
		db.AppendValues(x.categories, nil)
		dict := db.NewArray()
		defer dict.Release()

		typ := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String, Ordered: x.Ordered}
		return arrow.Field{Name: name, Type: typ, Nullable: true}, array.NewDictionaryArray(typ, indices, dict), nil
	default:
		panic(fmt.Sprintf("frame: unknown column type %T", c))
	}
}

func numericToArrow(mem memory.Allocator, a cas.Array) (arrow.Array, arrow.DataType, error) {
	switch v := a.(type) {
	case cas.Int32s:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.PrimitiveTypes.Int32, nil
	case cas.Int64s:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.PrimitiveTypes.Int64, nil
	case cas.Uint32s:
		b := array.NewUint32Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.PrimitiveTypes.Uint32, nil
	case cas.Float32s:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.PrimitiveTypes.Float32, nil
	case cas.Float64s:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.PrimitiveTypes.Float64, nil
	case cas.Bools:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s in numeric column", cas.ErrTypeMismatch, a.DType())
	}
}

// FromArrow converts a record to a frame. The index column is taken from
// the schema metadata written by ToArrow, else from a column named
// "_index"; without either the index is "0".."n-1".
func FromArrow(rec arrow.Record) (*Frame, error) {
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()
	return FromArrowTable(tbl)
}

// FromArrowTable converts a possibly chunked table to a frame.
func FromArrowTable(tbl arrow.Table) (*Frame, error) {
	schema := tbl.Schema()
	indexName := DefaultIndexName
	if md := schema.Metadata(); md.FindKey(MetaIndex) >= 0 {
		indexName = md.Values()[md.FindKey(MetaIndex)]
	}

	n := int(tbl.NumRows())
	var f *Frame
	if idx := schema.FieldIndices(indexName); len(idx) > 0 {
		c, err := fromChunks(tbl.Column(idx[0]))
		if err != nil {
			return nil, err
		}
		if f, err = New(stringValuesAny(c)); err != nil {
			return nil, err
		}
	} else {
		f = Range(n)
	}

	for i, field := range schema.Fields() {
		if field.Name == indexName {
			continue
		}
		c, err := fromChunks(tbl.Column(i))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		if s, ok := c.(*String); ok && field.HasMetadata() {
			if k := field.Metadata.FindKey(MetaCategorical); k >= 0 && field.Metadata.Values()[k] == "true" {
				cat := NewCategorical()
				for _, v := range s.Values {
					cat.Append(v)
				}
				if k := field.Metadata.FindKey(MetaOrdered); k >= 0 {
					cat.Ordered = field.Metadata.Values()[k] == "true"
				}
				c = cat
			}
		}
		if err := f.AppendColumn(field.Name, c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func stringValuesAny(c Column) []string {
	switch x := c.(type) {
	case *String, *Categorical:
		return stringValues(x)
	case *Numeric:
		out := make([]string, x.Len())
		for i := range out {
			out[i] = fmt.Sprint(x.Data.At(i))
		}
		return out
	default:
		panic(fmt.Sprintf("frame: unknown column type %T", c))
	}
}

func fromChunks(col *arrow.Column) (Column, error) {
	var parts []Column
	for _, chunk := range col.Data().Chunks() {
		c, err := fromArrowArray(chunk)
		if err != nil {
			return nil, err
		}
		parts = append(parts, c)
	}
	if len(parts) == 0 {
		return emptyColumn(col.DataType())
	}
	return concatColumns(col.Name(), parts)
}

func fromArrowArray(arr arrow.Array) (Column, error) {
	switch a := arr.(type) {
	case *array.Int32:
		return &Numeric{Data: cas.Int32s(fillNulls(a, a.Int32Values(), 0))}, nil
	case *array.Int64:
		return &Numeric{Data: cas.Int64s(fillNulls(a, a.Int64Values(), 0))}, nil
	case *array.Uint32:
		return &Numeric{Data: cas.Uint32s(fillNulls(a, a.Uint32Values(), 0))}, nil
	case *array.Float32:
		return &Numeric{Data: cas.Float32s(fillNulls(a, a.Float32Values(), float32(math.NaN())))}, nil
	case *array.Float64:
		return &Numeric{Data: cas.Float64s(fillNulls(a, a.Float64Values(), math.NaN()))}, nil
	case *array.Boolean:
		out := make(cas.Bools, a.Len())
		for i := range out {
			out[i] = a.IsValid(i) && a.Value(i)
		}
		return &Numeric{Data: out}, nil
	case *array.String:
		out := make([]string, a.Len())
		for i := range out {
			if a.IsValid(i) {
				out[i] = a.Value(i)
			}
		}
		return &String{Values: out}, nil
	case *array.Dictionary:
		dict, ok := a.Dictionary().(*array.String)
		if !ok {
			return nil, fmt.Errorf("%w: dictionary of %s", cas.ErrTypeMismatch, a.Dictionary().DataType())
		}
		cats := make([]string, dict.Len())
		for i := range cats {
			cats[i] = dict.Value(i)
		}
		codes := make([]int32, a.Len())
		for i := range codes {
			codes[i] = -1
			if a.IsValid(i) {
				codes[i] = int32(a.GetValueIndex(i))
			}
		}
		c, err := FromCodes(cats, codes)
		if err != nil {
			return nil, err
		}
		c.Ordered = a.DataType().(*arrow.DictionaryType).Ordered
		return c, nil
	default:
		return nil, fmt.Errorf("%w: arrow type %s", cas.ErrTypeMismatch, arr.DataType())
	}
}

func emptyColumn(dt arrow.DataType) (Column, error) {
	switch dt.ID() {
	case arrow.INT32:
		return &Numeric{Data: cas.Int32s{}}, nil
	case arrow.INT64:
		return &Numeric{Data: cas.Int64s{}}, nil
	case arrow.UINT32:
		return &Numeric{Data: cas.Uint32s{}}, nil
	case arrow.FLOAT32:
		return &Numeric{Data: cas.Float32s{}}, nil
	case arrow.FLOAT64:
		return &Numeric{Data: cas.Float64s{}}, nil
	case arrow.BOOL:
		return &Numeric{Data: cas.Bools{}}, nil
	case arrow.STRING:
		return &String{}, nil
	case arrow.DICTIONARY:
		return NewCategorical(), nil
	default:
		return nil, fmt.Errorf("%w: arrow type %s", cas.ErrTypeMismatch, dt)
	}
}

func fillNulls[T any](a arrow.Array, vals []T, fill T) []T {
	out := make([]T, len(vals))
	copy(out, vals)
	if a.NullN() == 0 {
		return out
	}
	for i := range out {
		if a.IsNull(i) {
			out[i] = fill
		}
	}
	return out
}
