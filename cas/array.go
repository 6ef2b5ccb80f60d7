package cas

import (
	"fmt"
	"math"
)

// Array is a 1-D typed sequence of elements.
//
// The concrete types are Int32s, Int64s, Uint32s, Float32s, Float64s, Bools
// and Strings. Slice shares memory with the receiver; Take copies.
type Array interface {
	DType() DType
	Len() int
	Slice(lo, hi int) Array
	Take(idx []int) Array
	// At returns element i as a Go value.
	At(i int) any
}

type (
	Int32s   []int32
	Int64s   []int64
	Uint32s  []uint32
	Float32s []float32
	Float64s []float64
	Bools    []bool
	Strings  []string
)

func (Int32s) DType() DType   { return Int32 }
func (Int64s) DType() DType   { return Int64 }
func (Uint32s) DType() DType  { return Uint32 }
func (Float32s) DType() DType { return Float32 }
func (Float64s) DType() DType { return Float64 }
func (Bools) DType() DType    { return Bool }
func (Strings) DType() DType  { return String }

func (a Int32s) Len() int   { return len(a) }
func (a Int64s) Len() int   { return len(a) }
func (a Uint32s) Len() int  { return len(a) }
func (a Float32s) Len() int { return len(a) }
func (a Float64s) Len() int { return len(a) }
func (a Bools) Len() int    { return len(a) }
func (a Strings) Len() int  { return len(a) }

func (a Int32s) Slice(lo, hi int) Array   { return a[lo:hi] }
func (a Int64s) Slice(lo, hi int) Array   { return a[lo:hi] }
func (a Uint32s) Slice(lo, hi int) Array  { return a[lo:hi] }
func (a Float32s) Slice(lo, hi int) Array { return a[lo:hi] }
func (a Float64s) Slice(lo, hi int) Array { return a[lo:hi] }
func (a Bools) Slice(lo, hi int) Array    { return a[lo:hi] }
func (a Strings) Slice(lo, hi int) Array  { return a[lo:hi] }

func (a Int32s) Take(idx []int) Array   { return Int32s(take(a, idx)) }
func (a Int64s) Take(idx []int) Array   { return Int64s(take(a, idx)) }
func (a Uint32s) Take(idx []int) Array  { return Uint32s(take(a, idx)) }
func (a Float32s) Take(idx []int) Array { return Float32s(take(a, idx)) }
func (a Float64s) Take(idx []int) Array { return Float64s(take(a, idx)) }
func (a Bools) Take(idx []int) Array    { return Bools(take(a, idx)) }
func (a Strings) Take(idx []int) Array  { return Strings(take(a, idx)) }

func (a Int32s) At(i int) any   { return a[i] }
func (a Int64s) At(i int) any   { return a[i] }
func (a Uint32s) At(i int) any  { return a[i] }
func (a Float32s) At(i int) any { return a[i] }
func (a Float64s) At(i int) any { return a[i] }
func (a Bools) At(i int) any    { return a[i] }
func (a Strings) At(i int) any  { return a[i] }

func take[T any](s []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out
}

// gather is take where a negative index yields fill.
func gather[T any](s []T, idx []int, fill T) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		if j < 0 {
			out[i] = fill
		} else {
			out[i] = s[j]
		}
	}
	return out
}

// NewArray returns a zero-valued array of n elements.
func NewArray(dt DType, n int) (Array, error) {
	switch dt {
	case Int32:
		return make(Int32s, n), nil
	case Int64:
		return make(Int64s, n), nil
	case Uint32:
		return make(Uint32s, n), nil
	case Float32:
		return make(Float32s, n), nil
	case Float64:
		return make(Float64s, n), nil
	case Bool:
		return make(Bools, n), nil
	case String:
		return make(Strings, n), nil
	default:
		return nil, fmt.Errorf("%w: dtype %s", ErrTypeMismatch, dt)
	}
}

// Gather selects elements of a by idx. Negative indices produce the missing
// value of the type: NaN for floats, the zero value otherwise.
func Gather(a Array, idx []int) Array {
	switch v := a.(type) {
	case Int32s:
		return Int32s(gather(v, idx, 0))
	case Int64s:
		return Int64s(gather(v, idx, 0))
	case Uint32s:
		return Uint32s(gather(v, idx, 0))
	case Float32s:
		return Float32s(gather(v, idx, float32(math.NaN())))
	case Float64s:
		return Float64s(gather(v, idx, math.NaN()))
	case Bools:
		return Bools(gather(v, idx, false))
	case Strings:
		return Strings(gather(v, idx, ""))
	default:
		panic(fmt.Sprintf("cas: unsupported array type %T", a))
	}
}

// Concat joins arrays of one dtype.
func Concat(arrs ...Array) (Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrTypeMismatch)
	}
	dt := arrs[0].DType()
	n := 0
	for _, a := range arrs {
		if a.DType() != dt {
			return nil, fmt.Errorf("%w: concat %s with %s", ErrTypeMismatch, dt, a.DType())
		}
		n += a.Len()
	}
	if len(arrs) == 1 {
		return arrs[0], nil
	}

	switch dt {
	case Int32:
		return Int32s(concat[int32](arrs, n)), nil
	case Int64:
		return Int64s(concat[int64](arrs, n)), nil
	case Uint32:
		return Uint32s(concat[uint32](arrs, n)), nil
	case Float32:
		return Float32s(concat[float32](arrs, n)), nil
	case Float64:
		return Float64s(concat[float64](arrs, n)), nil
	case Bool:
		return Bools(concat[bool](arrs, n)), nil
	case String:
		return Strings(concat[string](arrs, n)), nil
	default:
		return nil, fmt.Errorf("%w: dtype %s", ErrTypeMismatch, dt)
	}
}

func concat[T any](arrs []Array, n int) []T {
	out := make([]T, 0, n)
	for _, a := range arrs {
		out = append(out, values[T](a)...)
	}
	return out
}

// values returns the backing slice of a as []T. The caller guarantees the
// dtype matches T.
func values[T any](a Array) []T {
	switch v := any(a).(type) {
	case Int32s:
		return any([]int32(v)).([]T)
	case Int64s:
		return any([]int64(v)).([]T)
	case Uint32s:
		return any([]uint32(v)).([]T)
	case Float32s:
		return any([]float32(v)).([]T)
	case Float64s:
		return any([]float64(v)).([]T)
	case Bools:
		return any([]bool(v)).([]T)
	case Strings:
		return any([]string(v)).([]T)
	default:
		panic(fmt.Sprintf("cas: unsupported array type %T", a))
	}
}

// CastFloat64 converts a numeric or bool array to float64.
func CastFloat64(a Array) (Float64s, error) {
	switch v := a.(type) {
	case Float64s:
		return v, nil
	case Int32s:
		return castF64(v), nil
	case Int64s:
		return castF64(v), nil
	case Uint32s:
		return castF64(v), nil
	case Float32s:
		return castF64(v), nil
	case Bools:
		out := make(Float64s, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot cast %s to float64", ErrTypeMismatch, a.DType())
	}
}

type number interface {
	~int32 | ~int64 | ~uint32 | ~float32 | ~float64
}

func castF64[T number](v []T) Float64s {
	out := make(Float64s, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// FromValues builds an Array from a Go slice of a supported element type.
func FromValues(v any) (Array, error) {
	switch x := v.(type) {
	case Array:
		return x, nil
	case []int32:
		return Int32s(x), nil
	case []int64:
		return Int64s(x), nil
	case []int:
		out := make(Int64s, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out, nil
	case []uint32:
		return Uint32s(x), nil
	case []float32:
		return Float32s(x), nil
	case []float64:
		return Float64s(x), nil
	case []bool:
		return Bools(x), nil
	case []string:
		return Strings(x), nil
	default:
		return nil, fmt.Errorf("%w: unsupported slice type %T", ErrTypeMismatch, v)
	}
}

// Scalar is a 0-D value.
type Scalar struct {
	Data Array // exactly one element
}

// NewScalar wraps a Go value of a supported element type.
func NewScalar(v any) (Scalar, error) {
	switch x := v.(type) {
	case int32:
		return Scalar{Int32s{x}}, nil
	case int64:
		return Scalar{Int64s{x}}, nil
	case int:
		return Scalar{Int64s{int64(x)}}, nil
	case uint32:
		return Scalar{Uint32s{x}}, nil
	case float32:
		return Scalar{Float32s{x}}, nil
	case float64:
		return Scalar{Float64s{x}}, nil
	case bool:
		return Scalar{Bools{x}}, nil
	case string:
		return Scalar{Strings{x}}, nil
	default:
		return Scalar{}, fmt.Errorf("%w: unsupported scalar type %T", ErrTypeMismatch, v)
	}
}

// Value returns the scalar as a Go value.
func (s Scalar) Value() any { return s.Data.At(0) }

// DType returns the element type.
func (s Scalar) DType() DType { return s.Data.DType() }

// Categorical is a dictionary-encoded string array. Code -1 marks a missing
// value.
type Categorical struct {
	Categories []string
	Codes      []int32
}

// Len returns the number of elements.
func (c *Categorical) Len() int { return len(c.Codes) }

// Validate checks that every code addresses a category.
func (c *Categorical) Validate() error {
	n := int32(len(c.Categories))
	for i, code := range c.Codes {
		if code < -1 || code >= n {
			return fmt.Errorf("%w: code %d at %d outside %d categories", ErrOutOfRange, code, i, n)
		}
	}
	return nil
}

// Take selects rows by index. Negative indices yield code -1.
func (c *Categorical) Take(idx []int) *Categorical {
	return &Categorical{Categories: c.Categories, Codes: gather(c.Codes, idx, -1)}
}

// Values decodes the codes into strings; missing values become "".
func (c *Categorical) Values() []string {
	out := make([]string, len(c.Codes))
	for i, code := range c.Codes {
		if code >= 0 {
			out[i] = c.Categories[code]
		}
	}
	return out
}
