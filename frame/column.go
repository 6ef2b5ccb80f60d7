package frame

import (
	"fmt"

	"github.com/hupe1980/anndata/cas"
)

// ColumnKind tags the variant held by a Column.
type ColumnKind uint8

const (
	KindNumeric ColumnKind = iota + 1
	KindString
	KindCategorical
)

func (k ColumnKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindString:
		return "string"
	case KindCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("ColumnKind(%d)", uint8(k))
	}
}

// Column is one of *Numeric, *String or *Categorical.
type Column interface {
	Kind() ColumnKind
	Len() int
	// Take selects rows by index; -1 yields a missing value.
	Take(idx []int) Column
	column()
}

// Numeric is a column of numbers or booleans.
type Numeric struct {
	Data cas.Array
}

// NewNumeric wraps a non-string array.
func NewNumeric(a cas.Array) (*Numeric, error) {
	if a.DType() == cas.String {
		return nil, fmt.Errorf("%w: string array in numeric column", cas.ErrTypeMismatch)
	}
	return &Numeric{Data: a}, nil
}

func (c *Numeric) Kind() ColumnKind { return KindNumeric }
func (c *Numeric) Len() int         { return c.Data.Len() }
func (c *Numeric) column()          {}

func (c *Numeric) Take(idx []int) Column {
	return &Numeric{Data: cas.Gather(c.Data, idx)}
}

// String is a column of free-form strings.
type String struct {
	Values []string
}

func (c *String) Kind() ColumnKind { return KindString }
func (c *String) Len() int         { return len(c.Values) }
func (c *String) column()          {}

func (c *String) Take(idx []int) Column {
	return &String{Values: []string(cas.Gather(cas.Strings(c.Values), idx).(cas.Strings))}
}

// Categorical is a dictionary-encoded string column. Each row stores a code
// into the category dictionary; -1 marks a missing value.
type Categorical struct {
	Ordered bool

	categories []string
	codes      []int32
	lookup     map[string]int32
}

// NewCategorical encodes values, assigning codes in order of first
// appearance.
func NewCategorical(values ...string) *Categorical {
	c := &Categorical{lookup: make(map[string]int32)}
	c.Append(values...)
	return c
}

// FromCodes builds a column from an existing dictionary and codes.
func FromCodes(categories []string, codes []int32) (*Categorical, error) {
	c := &Categorical{
		categories: categories,
		codes:      codes,
		lookup:     make(map[string]int32, len(categories)),
	}
	for i, v := range categories {
		if _, dup := c.lookup[v]; dup {
			return nil, fmt.Errorf("%w: category %q", cas.ErrDuplicateName, v)
		}
		c.lookup[v] = int32(i)
	}
	enc := cas.Categorical{Categories: categories, Codes: codes}
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Categorical) Kind() ColumnKind { return KindCategorical }
func (c *Categorical) Len() int         { return len(c.codes) }
func (c *Categorical) column()          {}

// Append adds rows. A value already in the dictionary reuses its code; a new
// value adds exactly one category.
func (c *Categorical) Append(values ...string) {
	for _, v := range values {
		c.codes = append(c.codes, c.code(v))
	}
}

// AppendMissing adds n missing rows.
func (c *Categorical) AppendMissing(n int) {
	for range n {
		c.codes = append(c.codes, -1)
	}
}

func (c *Categorical) code(v string) int32 {
	if code, ok := c.lookup[v]; ok {
		return code
	}
	code := int32(len(c.categories))
	c.categories = append(c.categories, v)
	if c.lookup == nil {
		c.lookup = make(map[string]int32)
	}
	c.lookup[v] = code
	return code
}

// Categories returns the dictionary. The slice must not be modified.
func (c *Categorical) Categories() []string { return c.categories }

// Codes returns the per-row codes. The slice must not be modified.
func (c *Categorical) Codes() []int32 { return c.codes }

// Code returns the code of a category.
func (c *Categorical) Code(v string) (int32, bool) {
	code, ok := c.lookup[v]
	return code, ok
}

// Value returns the category of row i and false if the row is missing.
func (c *Categorical) Value(i int) (string, bool) {
	code := c.codes[i]
	if code < 0 {
		return "", false
	}
	return c.categories[code], true
}

// Values decodes every row; missing rows become "".
func (c *Categorical) Values() []string {
	return c.Encoded().Values()
}

// Encoded returns the dictionary encoding stored by cas.
func (c *Categorical) Encoded() *cas.Categorical {
	return &cas.Categorical{Categories: c.categories, Codes: c.codes}
}

func (c *Categorical) Take(idx []int) Column {
	out := c.Encoded().Take(idx)
	lookup := make(map[string]int32, len(c.lookup))
	for k, v := range c.lookup {
		lookup[k] = v
	}
	n := len(c.categories)
	return &Categorical{
		Ordered:    c.Ordered,
		categories: c.categories[:n:n],
		codes:      out.Codes,
		lookup:     lookup,
	}
}

// clone returns a column whose dictionary can grow without affecting c.
func (c *Categorical) clone() *Categorical {
	out := &Categorical{
		Ordered:    c.Ordered,
		categories: append([]string(nil), c.categories...),
		codes:      append([]int32(nil), c.codes...),
		lookup:     make(map[string]int32, len(c.lookup)),
	}
	for k, v := range c.lookup {
		out.lookup[k] = v
	}
	return out
}

// NewColumn converts common Go values to a column: []string becomes a
// String column, *cas.Categorical a Categorical column and numeric slices
// or cas arrays a Numeric column.
func NewColumn(v any) (Column, error) {
	switch x := v.(type) {
	case Column:
		return x, nil
	case []string:
		return &String{Values: x}, nil
	case cas.Strings:
		return &String{Values: x}, nil
	case *cas.Categorical:
		return FromCodes(x.Categories, x.Codes)
	default:
		a, err := cas.FromValues(v)
		if err != nil {
			return nil, err
		}
		return NewNumeric(a)
	}
}

// missing returns a column of n missing values shaped like c.
func missing(c Column, n int) Column {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = -1
	}
	return c.Take(idx)
}

// concatColumns joins columns of one name across frames. Numeric columns of
// different types widen to float64; string and categorical columns mix into
// a string column.
func concatColumns(name string, cols []Column) (Column, error) {
	kind := cols[0].Kind()
	for _, c := range cols[1:] {
		if c.Kind() != kind {
			if kind == KindNumeric || c.Kind() == KindNumeric {
				return nil, &cas.SchemaError{Reason: fmt.Sprintf("column %q mixes %s and %s", name, kind, c.Kind())}
			}
			kind = KindString
		}
	}

	switch kind {
	case KindNumeric:
		arrs := make([]cas.Array, len(cols))
		dt := cols[0].(*Numeric).Data.DType()
		for i, c := range cols {
			arrs[i] = c.(*Numeric).Data
			if arrs[i].DType() != dt {
				dt = cas.Float64
			}
		}
		if dt == cas.Float64 {
			for i, a := range arrs {
				f, err := cas.CastFloat64(a)
				if err != nil {
					return nil, err
				}
				arrs[i] = f
			}
		}
		a, err := cas.Concat(arrs...)
		if err != nil {
			return nil, err
		}
		return &Numeric{Data: a}, nil
	case KindString:
		var out []string
		for _, c := range cols {
			out = append(out, stringValues(c)...)
		}
		return &String{Values: out}, nil
	case KindCategorical:
		first := cols[0].(*Categorical)
		out := first.clone()
		for _, c := range cols[1:] {
			cat := c.(*Categorical)
			for _, code := range cat.codes {
				if code < 0 {
					out.codes = append(out.codes, -1)
					continue
				}
				out.codes = append(out.codes, out.code(cat.categories[code]))
			}
		}
		return out, nil
	default:
		panic(fmt.Sprintf("frame: unknown column kind %s", kind))
	}
}

func stringValues(c Column) []string {
	switch x := c.(type) {
	case *String:
		return x.Values
	case *Categorical:
		return x.Values()
	default:
		panic(fmt.Sprintf("frame: %T has no string values", c))
	}
}
