package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	c, ok = ByName("")
	require.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestAttrsRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			in := Attrs{
				"encoding-type": "dataframe",
				"column-order":  []string{"a", "b"},
				"n_obs":         int64(42),
			}
			b, err := EncodeAttrs(c, in)
			require.NoError(t, err)

			out, err := DecodeAttrs(c, b)
			require.NoError(t, err)

			s, ok := out.String("encoding-type")
			require.True(t, ok)
			assert.Equal(t, "dataframe", s)

			cols, ok := out.Strings("column-order")
			require.True(t, ok)
			assert.Equal(t, []string{"a", "b"}, cols)

			n, ok := out.Int("n_obs")
			require.True(t, ok)
			assert.Equal(t, int64(42), n)
		})
	}
}

func TestAttrsEmpty(t *testing.T) {
	b, err := EncodeAttrs(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	out, err := DecodeAttrs(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeAttrsInvalid(t *testing.T) {
	_, err := DecodeAttrs(JSON{}, []byte("{not json"))
	assert.Error(t, err)
}

func TestAttrsAccessorsMismatch(t *testing.T) {
	a := Attrs{"x": 1.5, "y": []any{"a", 2.0}}
	_, ok := a.String("x")
	assert.False(t, ok)
	_, ok = a.Strings("y")
	assert.False(t, ok)
	_, ok = a.Int("missing")
	assert.False(t, ok)

	c := a.Clone()
	c["z"] = "new"
	_, ok = a["z"]
	assert.False(t, ok)
}
