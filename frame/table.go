package frame

import (
	"context"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/codec"
)

// Attribute keys of a stored table group.
const (
	AttrEncoding    = "encoding-type"
	AttrIndex       = "_index"
	AttrColumnOrder = "column-order"
	AttrOrdered     = "ordered"

	encodingDataframe   = "dataframe"
	encodingCategorical = "categorical"
	encodingStringArray = "string-array"
	encodingArray       = "array"
)

// WriteFrame stages f as a table group at p. The group must not exist.
func WriteFrame(ctx context.Context, b *cas.Batch, p string, f *Frame) error {
	if b.Exists(p) {
		return fmt.Errorf("%w: node %s", cas.ErrDuplicateName, p)
	}
	if err := b.CreateGroup(p, tableAttrs(f.names)); err != nil {
		return err
	}
	if err := b.WriteArrayAttrs(ctx, cas.Join(p, DefaultIndexName), cas.Strings(f.index), cas.EncodingNone,
		codec.Attrs{AttrEncoding: encodingStringArray}); err != nil {
		return err
	}
	for _, name := range f.names {
		if err := writeColumn(ctx, b, cas.Join(p, name), f.cols[name]); err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
	}
	return nil
}

func tableAttrs(names []string) codec.Attrs {
	if names == nil {
		names = []string{}
	}
	return codec.Attrs{
		AttrEncoding:    encodingDataframe,
		AttrIndex:       DefaultIndexName,
		AttrColumnOrder: names,
	}
}

func writeColumn(ctx context.Context, b *cas.Batch, p string, c Column) error {
	switch x := c.(type) {
	case *Numeric:
		return b.WriteArrayAttrs(ctx, p, x.Data, cas.EncodingNone, codec.Attrs{AttrEncoding: encodingArray})
	case *String:
		return b.WriteArrayAttrs(ctx, p, cas.Strings(x.Values), cas.EncodingNone, codec.Attrs{AttrEncoding: encodingStringArray})
	case *Categorical:
		return b.WriteArrayAttrs(ctx, p, x.Encoded(), cas.EncodingNone,
			codec.Attrs{AttrEncoding: encodingCategorical, AttrOrdered: x.Ordered})
	default:
		panic(fmt.Sprintf("frame: unknown column type %T", c))
	}
}

// Table is an annotation table stored in a cas.Store group. Columns are read
// on demand through ColumnHandle; nothing is cached.
type Table struct {
	st   *cas.Store
	path string
	n    int
}

// OpenTable opens the table group at p and checks that every listed column
// exists with the index length.
func OpenTable(st *cas.Store, p string) (*Table, error) {
	p = cas.CleanPath(p)
	info, err := st.Node(p)
	if err != nil {
		return nil, err
	}
	if enc, _ := info.Attrs.String(AttrEncoding); info.Kind != cas.KindGroup || enc != encodingDataframe {
		return nil, fmt.Errorf("%w: %s is not a table", cas.ErrTypeMismatch, p)
	}
	index, err := st.Node(cas.Join(p, indexName(info.Attrs)))
	if err != nil {
		return nil, fmt.Errorf("%w: table %s has no index", cas.ErrCorruptFormat, p)
	}
	t := &Table{st: st, path: p, n: int(index.Rows())}

	names, ok := info.Attrs.Strings(AttrColumnOrder)
	if !ok && info.Attrs[AttrColumnOrder] != nil {
		return nil, fmt.Errorf("%w: table %s: bad column order", cas.ErrCorruptFormat, p)
	}
	for _, name := range names {
		col, err := st.Node(cas.Join(p, name))
		if err != nil {
			return nil, fmt.Errorf("%w: table %s lists missing column %q", cas.ErrCorruptFormat, p, name)
		}
		if len(col.Shape) != 1 || col.Rows() != int64(t.n) {
			return nil, fmt.Errorf("%w: table %s column %q has shape %v, want [%d]", cas.ErrCorruptFormat, p, name, col.Shape, t.n)
		}
	}
	return t, nil
}

func indexName(attrs codec.Attrs) string {
	if s, ok := attrs.String(AttrIndex); ok && s != "" {
		return s
	}
	return DefaultIndexName
}

// Path returns the table group path.
func (t *Table) Path() string { return t.path }

// Len returns the number of rows.
func (t *Table) Len() int { return t.n }

func (t *Table) attrs() (codec.Attrs, error) {
	return t.st.Attrs(t.path)
}

// Names returns the column names in order.
func (t *Table) Names() ([]string, error) {
	attrs, err := t.attrs()
	if err != nil {
		return nil, err
	}
	names, _ := attrs.Strings(AttrColumnOrder)
	return names, nil
}

// Index reads the row identifiers.
func (t *Table) Index(ctx context.Context) ([]string, error) {
	attrs, err := t.attrs()
	if err != nil {
		return nil, err
	}
	a, err := t.st.ReadArray(ctx, cas.Join(t.path, indexName(attrs)), 0, -1)
	if err != nil {
		return nil, err
	}
	return a.(cas.Strings), nil
}

// Column returns a lazy handle to the named column.
func (t *Table) Column(name string) (*ColumnHandle, error) {
	names, err := t.Names()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %q in %s", cas.ErrNoSuchColumn, name, t.path)
	}
	p := cas.Join(t.path, name)
	info, err := t.st.Node(p)
	if err != nil {
		return nil, err
	}
	return &ColumnHandle{st: t.st, name: name, info: info}, nil
}

// AppendColumn writes a new column. v is a Column or any value accepted by
// NewColumn.
func (t *Table) AppendColumn(ctx context.Context, name string, v any) error {
	b, err := t.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := AppendColumn(ctx, b, t.path, name, v); err != nil {
		b.Abort(ctx)
		return err
	}
	return b.Commit(ctx)
}

// AppendColumn stages a new column of the table group at p.
func AppendColumn(ctx context.Context, b *cas.Batch, p, name string, v any) error {
	info, err := b.Node(p)
	if err != nil {
		return err
	}
	c, err := NewColumn(v)
	if err != nil {
		return err
	}
	index, err := b.Node(cas.Join(p, indexName(info.Attrs)))
	if err != nil {
		return fmt.Errorf("%w: table %s has no index", cas.ErrCorruptFormat, p)
	}
	if int64(c.Len()) != index.Rows() {
		return &cas.LengthMismatchError{What: "column " + name, Want: index.Rows(), Got: int64(c.Len())}
	}
	names, _ := info.Attrs.Strings(AttrColumnOrder)
	if slices.Contains(names, name) || name == indexName(info.Attrs) {
		return fmt.Errorf("%w: column %q", cas.ErrDuplicateName, name)
	}
	if err := writeColumn(ctx, b, cas.Join(p, name), c); err != nil {
		return err
	}
	attrs := info.Attrs.Clone()
	attrs[AttrColumnOrder] = append(slices.Clone(names), name)
	return b.SetAttrs(p, attrs)
}

// DropColumn deletes a column.
func (t *Table) DropColumn(ctx context.Context, name string) error {
	b, err := t.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := dropColumn(b, t.path, name); err != nil {
		b.Abort(ctx)
		return err
	}
	return b.Commit(ctx)
}

func dropColumn(b *cas.Batch, p, name string) error {
	info, err := b.Node(p)
	if err != nil {
		return err
	}
	names, _ := info.Attrs.Strings(AttrColumnOrder)
	if !slices.Contains(names, name) {
		return fmt.Errorf("%w: %q in %s", cas.ErrNoSuchColumn, name, p)
	}
	if err := b.Delete(cas.Join(p, name)); err != nil {
		return err
	}
	attrs := info.Attrs.Clone()
	attrs[AttrColumnOrder] = slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == name })
	return b.SetAttrs(p, attrs)
}

// Load materializes the whole table.
func (t *Table) Load(ctx context.Context) (*Frame, error) {
	return t.read(ctx, nil)
}

// Take materializes the given ascending rows.
func (t *Table) Take(ctx context.Context, rows []int) (*Frame, error) {
	if rows == nil {
		rows = []int{}
	}
	return t.read(ctx, rows)
}

// Subset materializes the rows set in mask.
func (t *Table) Subset(ctx context.Context, mask *roaring.Bitmap) (*Frame, error) {
	rows, err := MaskIndices(mask, t.n)
	if err != nil {
		return nil, err
	}
	return t.read(ctx, rows)
}

// read loads rows (nil for all) of every column.
func (t *Table) read(ctx context.Context, rows []int) (*Frame, error) {
	attrs, err := t.attrs()
	if err != nil {
		return nil, err
	}
	idx, err := t.st.Take(ctx, cas.Join(t.path, indexName(attrs)), rows, nil)
	if err != nil {
		return nil, err
	}
	f, err := New(idx.(cas.Strings))
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %w", cas.ErrCorruptFormat, t.path, err)
	}
	names, _ := attrs.Strings(AttrColumnOrder)
	for _, name := range names {
		h, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		c, err := h.take(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		f.names = append(f.names, name)
		f.cols[name] = c
	}
	return f, nil
}

// ColumnHandle defers reading a stored column until Read is called.
type ColumnHandle struct {
	st   *cas.Store
	name string
	info cas.NodeInfo
}

// Name returns the column name.
func (h *ColumnHandle) Name() string { return h.name }

// Len returns the number of rows.
func (h *ColumnHandle) Len() int { return int(h.info.Rows()) }

// DType returns the stored element type.
func (h *ColumnHandle) DType() cas.DType { return h.info.DType }

// Kind returns the column variant Read will produce.
func (h *ColumnHandle) Kind() ColumnKind {
	switch {
	case h.info.Kind == cas.KindCategorical:
		return KindCategorical
	case h.info.DType == cas.String:
		return KindString
	default:
		return KindNumeric
	}
}

// Read materializes the whole column.
func (h *ColumnHandle) Read(ctx context.Context) (Column, error) {
	return h.ReadRange(ctx, 0, -1)
}

// ReadRange materializes rows [lo, hi). hi < 0 reads to the end.
func (h *ColumnHandle) ReadRange(ctx context.Context, lo, hi int) (Column, error) {
	if h.Kind() == KindCategorical {
		c, err := h.st.ReadCategorical(ctx, h.info.Path, lo, hi)
		if err != nil {
			return nil, err
		}
		return h.categorical(c)
	}
	a, err := h.st.ReadArray(ctx, h.info.Path, lo, hi)
	if err != nil {
		return nil, err
	}
	return h.wrap(a)
}

// Take materializes the given ascending rows.
func (h *ColumnHandle) Take(ctx context.Context, rows []int) (Column, error) {
	if rows == nil {
		rows = []int{}
	}
	return h.take(ctx, rows)
}

func (h *ColumnHandle) take(ctx context.Context, rows []int) (Column, error) {
	v, err := h.st.Take(ctx, h.info.Path, rows, nil)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case *cas.Categorical:
		return h.categorical(x)
	case cas.Array:
		return h.wrap(x)
	default:
		return nil, fmt.Errorf("%w: column %s read as %T", cas.ErrTypeMismatch, h.info.Path, v)
	}
}

func (h *ColumnHandle) categorical(c *cas.Categorical) (*Categorical, error) {
	out, err := FromCodes(c.Categories, c.Codes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", cas.ErrCorruptFormat, h.info.Path, err)
	}
	out.Ordered, _ = h.info.Attrs[AttrOrdered].(bool)
	return out, nil
}

func (h *ColumnHandle) wrap(a cas.Array) (Column, error) {
	if s, ok := a.(cas.Strings); ok {
		return &String{Values: s}, nil
	}
	return &Numeric{Data: a}, nil
}
