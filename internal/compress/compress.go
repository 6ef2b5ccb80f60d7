// Package compress implements the block codecs used for array chunks.
//
// A chunk is compressed as one independent block so that a range read only
// has to decode the chunks it touches. When compression does not pay off
// (compressed size above 90% of the input) the block is stored raw and the
// caller records None for it.
package compress

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a block codec. The numeric values are persisted.
type Type uint8

const (
	// None stores blocks raw.
	None Type = 0
	// LZ4 is fast block compression; the default for new arrays.
	LZ4 Type = 1
	// ZSTD trades speed for ratio; useful for cold or remote containers.
	ZSTD Type = 2
)

// ErrCorrupt is returned when a block cannot be decoded to its recorded size.
var ErrCorrupt = errors.New("compress: corrupt block")

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known codec.
func (t Type) Valid() bool { return t <= ZSTD }

// ParseType parses a codec name as written in configuration files.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lz4":
		return LZ4, nil
	case "none", "raw":
		return None, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("compress: unknown codec %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode compresses data with t. It returns the stored bytes and the codec
// actually applied, which is None when compression did not help.
func Encode(data []byte, t Type) ([]byte, Type, error) {
	if t == None || len(data) == 0 {
		return data, None, nil
	}

	var (
		out []byte
		err error
	)
	switch t {
	case LZ4:
		out, err = encodeLZ4(data)
	case ZSTD:
		out, err = encodeZSTD(data)
	default:
		return nil, None, fmt.Errorf("compress: unknown codec %d", t)
	}
	if err != nil {
		return nil, None, err
	}

	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 {
		return data, None, nil
	}
	return out, t, nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func encodeZSTD(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

// Decode reverses Encode. rawSize is the uncompressed length recorded next
// to the block.
func Decode(block []byte, t Type, rawSize int) ([]byte, error) {
	switch t {
	case None:
		if len(block) != rawSize {
			return nil, fmt.Errorf("%w: raw block has %d bytes, want %d", ErrCorrupt, len(block), rawSize)
		}
		return block, nil
	case LZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(block, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: lz4 decoded %d bytes, want %d", ErrCorrupt, n, rawSize)
		}
		return out, nil
	case ZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(block, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: zstd decoded %d bytes, want %d", ErrCorrupt, len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, t)
	}
}
