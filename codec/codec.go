// Package codec encodes node attributes and scalar values.
//
// The manifest records the codec name of the container that wrote it, so a
// container opened later decodes attributes with the same codec.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json", "":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Attrs is the attribute map stored on every node.
type Attrs map[string]any

// EncodeAttrs marshals attrs with c. A nil or empty map encodes to nil.
func EncodeAttrs(c Codec, attrs Attrs) ([]byte, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("codec %s: encode attrs: %w", c.Name(), err)
	}
	return b, nil
}

// DecodeAttrs unmarshals attribute bytes written by EncodeAttrs.
func DecodeAttrs(c Codec, data []byte) (Attrs, error) {
	attrs := Attrs{}
	if len(data) == 0 {
		return attrs, nil
	}
	if c == nil {
		c = Default
	}
	if err := c.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("codec %s: decode attrs: %w", c.Name(), err)
	}
	return attrs, nil
}

// String returns attrs[key] if it is a string.
func (a Attrs) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Strings returns attrs[key] as a string slice. Decoded JSON arrays arrive
// as []any and are converted element-wise.
func (a Attrs) Strings(key string) ([]string, bool) {
	switch v := a[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Int returns attrs[key] as an int64. JSON numbers decode as float64.
func (a Attrs) Int(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of a.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
