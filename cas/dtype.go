package cas

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type of an array.
type DType uint8

const (
	Invalid DType = iota
	Int32
	Int64
	Uint32
	Float32
	Float64
	Bool
	String
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Int32:   "int32",
	Int64:   "int64",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
	Bool:    "bool",
	String:  "string",
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", d)
}

// Valid reports whether d is a known element type.
func (d DType) Valid() bool { return d > Invalid && d <= String }

// Numeric reports whether d is an integer or floating point type.
func (d DType) Numeric() bool { return d >= Int32 && d <= Float64 }

// Size returns the encoded width of one element, or 0 for String.
func (d DType) Size() int {
	switch d {
	case Int32, Uint32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

// ParseDType parses a dtype name.
func ParseDType(s string) (DType, error) {
	for i, n := range dtypeNames {
		if n == s && DType(i).Valid() {
			return DType(i), nil
		}
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}

// encodeElems appends the little-endian encoding of a to dst. Strings are
// written as uvarint length followed by the bytes.
func encodeElems(dst []byte, a Array) []byte {
	switch v := a.(type) {
	case Int32s:
		for _, x := range v {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(x))
		}
	case Int64s:
		for _, x := range v {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(x))
		}
	case Uint32s:
		for _, x := range v {
			dst = binary.LittleEndian.AppendUint32(dst, x)
		}
	case Float32s:
		for _, x := range v {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
		}
	case Float64s:
		for _, x := range v {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(x))
		}
	case Bools:
		for _, x := range v {
			if x {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		}
	case Strings:
		for _, x := range v {
			dst = binary.AppendUvarint(dst, uint64(len(x)))
			dst = append(dst, x...)
		}
	default:
		panic(fmt.Sprintf("cas: unsupported array type %T", a))
	}
	return dst
}

// decodeElems decodes elements [from, to) of a chunk holding n elements.
func decodeElems(dt DType, raw []byte, n, from, to int) (Array, error) {
	if from < 0 || to > n || from > to {
		return nil, fmt.Errorf("element range [%d, %d) outside chunk of %d", from, to, n)
	}
	if w := dt.Size(); w > 0 {
		if len(raw) != n*w {
			return nil, fmt.Errorf("chunk has %d bytes for %d %s elements", len(raw), n, dt)
		}
		raw = raw[from*w : to*w]
	}
	cnt := to - from

	switch dt {
	case Int32:
		out := make(Int32s, cnt)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case Int64:
		out := make(Int64s, cnt)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case Uint32:
		out := make(Uint32s, cnt)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return out, nil
	case Float32:
		out := make(Float32s, cnt)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case Float64:
		out := make(Float64s, cnt)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case Bool:
		out := make(Bools, cnt)
		for i := range out {
			out[i] = raw[i] != 0
		}
		return out, nil
	case String:
		out := make(Strings, 0, cnt)
		for i := 0; i < to; i++ {
			l, k := binary.Uvarint(raw)
			if k <= 0 || uint64(len(raw)-k) < l {
				return nil, fmt.Errorf("truncated string element %d", i)
			}
			if i >= from {
				out = append(out, string(raw[k:k+int(l)]))
			}
			raw = raw[k+int(l):]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dt)
	}
}
