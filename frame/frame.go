package frame

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/anndata/cas"
)

// DefaultIndexName is the name under which the index is stored.
const DefaultIndexName = "_index"

// Frame is an in-memory annotation table: ordered named columns of equal
// length keyed by a unique string index.
type Frame struct {
	index []string
	pos   map[string]int
	names []string
	cols  map[string]Column
}

// New returns a frame without columns. Index values must be unique.
func New(index []string) (*Frame, error) {
	pos := make(map[string]int, len(index))
	for i, id := range index {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("%w: index value %q", cas.ErrDuplicateName, id)
		}
		pos[id] = i
	}
	return &Frame{index: index, pos: pos, cols: make(map[string]Column)}, nil
}

// Range returns a frame indexed by "0", "1", ... "n-1".
func Range(n int) *Frame {
	index := make([]string, n)
	for i := range index {
		index[i] = strconv.Itoa(i)
	}
	f, _ := New(index)
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// Index returns the row identifiers. The slice must not be modified.
func (f *Frame) Index() []string { return f.index }

// Lookup returns the row of an index value.
func (f *Frame) Lookup(id string) (int, bool) {
	i, ok := f.pos[id]
	return i, ok
}

// Names returns the column names in order.
func (f *Frame) Names() []string { return slices.Clone(f.names) }

// Column returns the named column.
func (f *Frame) Column(name string) (Column, error) {
	c, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cas.ErrNoSuchColumn, name)
	}
	return c, nil
}

// AppendColumn adds a column after the existing ones. v is a Column or any
// value accepted by NewColumn.
func (f *Frame) AppendColumn(name string, v any) error {
	if _, ok := f.cols[name]; ok || name == DefaultIndexName {
		return fmt.Errorf("%w: column %q", cas.ErrDuplicateName, name)
	}
	c, err := NewColumn(v)
	if err != nil {
		return err
	}
	if c.Len() != f.Len() {
		return &cas.LengthMismatchError{What: "column " + name, Want: int64(f.Len()), Got: int64(c.Len())}
	}
	f.names = append(f.names, name)
	f.cols[name] = c
	return nil
}

// DropColumn removes a column.
func (f *Frame) DropColumn(name string) error {
	if _, ok := f.cols[name]; !ok {
		return fmt.Errorf("%w: %q", cas.ErrNoSuchColumn, name)
	}
	delete(f.cols, name)
	f.names = slices.DeleteFunc(f.names, func(n string) bool { return n == name })
	return nil
}

// Take returns the rows at idx, in that order. Indices must be valid and
// distinct.
func (f *Frame) Take(idx []int) (*Frame, error) {
	index := make([]string, len(idx))
	for i, r := range idx {
		if r < 0 || r >= f.Len() {
			return nil, &cas.OutOfRangeError{Path: "frame", Lo: int64(r), Hi: int64(r) + 1, Len: int64(f.Len())}
		}
		index[i] = f.index[r]
	}
	out, err := New(index)
	if err != nil {
		return nil, err
	}
	f.takeColumns(out, idx)
	return out, nil
}

func (f *Frame) takeColumns(out *Frame, idx []int) {
	for _, name := range f.names {
		out.names = append(out.names, name)
		out.cols[name] = f.cols[name].Take(idx)
	}
}

// Subset returns the rows set in mask, keeping their relative order.
func (f *Frame) Subset(mask *roaring.Bitmap) (*Frame, error) {
	idx, err := MaskIndices(mask, f.Len())
	if err != nil {
		return nil, err
	}
	return f.Take(idx)
}

// Reindex returns a frame with the given index. Rows of f are matched by
// identifier; identifiers f lacks get missing values.
func (f *Frame) Reindex(index []string) (*Frame, error) {
	out, err := New(index)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(index))
	for i, id := range index {
		r, ok := f.pos[id]
		if !ok {
			r = -1
		}
		idx[i] = r
	}
	f.takeColumns(out, idx)
	return out, nil
}

// MaskIndices converts a row mask to ascending row indices.
func MaskIndices(mask *roaring.Bitmap, n int) ([]int, error) {
	if mask == nil {
		return nil, fmt.Errorf("%w: nil mask", cas.ErrOutOfRange)
	}
	if !mask.IsEmpty() && int(mask.Maximum()) >= n {
		return nil, &cas.OutOfRangeError{Path: "mask", Lo: int64(mask.Maximum()), Hi: int64(mask.Maximum()) + 1, Len: int64(n)}
	}
	idx := make([]int, 0, mask.GetCardinality())
	it := mask.Iterator()
	for it.HasNext() {
		idx = append(idx, int(it.Next()))
	}
	return idx, nil
}

// ConcatOptions controls Concat.
type ConcatOptions struct {
	// Keys names each input frame; defaults to "0", "1", ...
	Keys []string
	// Label is the name of the categorical column recording each row's
	// source. Empty disables it.
	Label string
	// IndexSeparator, when set, makes index values unique by appending
	// separator and key. When empty, values are kept unless two frames
	// share one; then DefaultIndexSeparator is used.
	IndexSeparator string
}

// DefaultIndexSeparator joins index value and key when the inputs of Concat
// overlap and no separator was given.
const DefaultIndexSeparator = "-"

// Concat stacks frames vertically. Columns are matched by name in order of
// first appearance; rows of frames lacking a column get missing values.
func Concat(frames []*Frame, opts ConcatOptions) (*Frame, error) {
	keys := opts.Keys
	if keys == nil {
		keys = make([]string, len(frames))
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
	}
	if len(keys) != len(frames) {
		return nil, &cas.LengthMismatchError{What: "concat keys", Want: int64(len(frames)), Got: int64(len(keys))}
	}

	sep := opts.IndexSeparator
	if sep == "" && overlapping(frames) {
		sep = DefaultIndexSeparator
	}

	var index []string
	var names []string
	seen := make(map[string]bool)
	for i, f := range frames {
		for _, id := range f.index {
			if sep != "" {
				id += sep + keys[i]
			}
			index = append(index, id)
		}
		for _, n := range f.names {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	if opts.Label != "" && seen[opts.Label] {
		return nil, fmt.Errorf("%w: label column %q", cas.ErrDuplicateName, opts.Label)
	}

	out, err := New(index)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		var template Column
		for _, f := range frames {
			if c, ok := f.cols[name]; ok {
				template = c
				break
			}
		}
		parts := make([]Column, len(frames))
		for i, f := range frames {
			if c, ok := f.cols[name]; ok {
				parts[i] = c
			} else {
				parts[i] = missing(template, f.Len())
			}
		}
		c, err := concatColumns(name, parts)
		if err != nil {
			return nil, err
		}
		out.names = append(out.names, name)
		out.cols[name] = c
	}

	if opts.Label != "" {
		label, err := FromCodes(slices.Clone(keys), nil)
		if err != nil {
			return nil, err
		}
		for i, f := range frames {
			for range f.Len() {
				label.codes = append(label.codes, int32(i))
			}
		}
		out.names = append(out.names, opts.Label)
		out.cols[opts.Label] = label
	}
	return out, nil
}

// overlapping reports whether an index value occurs in more than one frame.
func overlapping(frames []*Frame) bool {
	owner := make(map[string]int)
	for i, f := range frames {
		for _, id := range f.index {
			if j, ok := owner[id]; ok && j != i {
				return true
			}
			owner[id] = i
		}
	}
	return false
}
