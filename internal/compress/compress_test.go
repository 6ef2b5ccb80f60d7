package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	data := bytes.Repeat([]byte("count matrix chunk "), 512)

	for _, typ := range []Type{None, LZ4, ZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			block, used, err := Encode(data, typ)
			require.NoError(t, err)
			if typ != None {
				assert.Equal(t, typ, used)
				assert.Less(t, len(block), len(data))
			}

			out, err := Decode(block, used, len(data))
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestEncode_IncompressibleFallsBackToNone(t *testing.T) {
	data := []byte{0x01, 0x7f, 0x33}
	block, used, err := Encode(data, LZ4)
	require.NoError(t, err)
	assert.Equal(t, None, used)
	assert.Equal(t, data, block)
}

func TestDecode_Corrupt(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 1024)
	block, used, err := Encode(data, LZ4)
	require.NoError(t, err)

	_, err = Decode(block[:len(block)/2], used, len(data))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode([]byte{1, 2}, None, 3)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"": LZ4, "lz4": LZ4, "ZSTD": ZSTD, "none": None} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("snappy")
	assert.Error(t, err)
}
