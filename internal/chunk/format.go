// Package chunk implements the on-disk format of one array component.
//
// A chunk file holds a 1-D sequence of fixed-type elements split into chunks
// of ChunkLen elements. Each chunk is compressed on its own and listed in a
// table, so a reader fetches the header and table once and afterwards reads
// only the chunks covering a requested element range.
//
// Layout (little-endian):
//
//	[0, 64)                header
//	[64, 64+24*NumChunks)  chunk table
//	[DataOffset, ...)      chunk payloads, back to back
//
// The package is type-agnostic: callers encode elements into raw chunk bytes
// and record their type code in the header.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/anndata/internal/compress"
	"github.com/hupe1980/anndata/internal/hash"
)

const (
	// FormatMagic identifies chunk files (ASCII: "ANDC").
	FormatMagic uint32 = 0x414E4443

	// FormatVersion is the current chunk file format version.
	FormatVersion uint32 = 1

	// HeaderSize is the size of the file header in bytes.
	HeaderSize = 64

	// EntrySize is the size of one chunk table entry in bytes.
	EntrySize = 24
)

// ErrCorrupted is returned when a chunk file fails validation.
var ErrCorrupted = errors.New("chunk: file corrupted")

// Header is the 64-byte header at the start of chunk files.
type Header struct {
	Magic       uint32
	Version     uint32
	DType       uint8
	Compression compress.Type // requested codec; chunks may fall back to None
	ChunkLen    uint32        // elements per chunk; the last chunk may be shorter
	Length      uint64        // total elements
	NumChunks   uint32
	TableCRC    uint32
	DataOffset  uint64
	RawBytes    uint64 // total uncompressed payload bytes
	Checksum    uint32 // CRC32 of bytes [0, 56)
}

// Entry describes one stored chunk.
type Entry struct {
	Offset  uint64 // absolute offset of the payload
	Size    uint32 // stored (possibly compressed) size
	RawSize uint32
	CRC     uint32 // CRC32 of the stored bytes
	Codec   compress.Type
}

func (h *Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = h.DType
	buf[9] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[12:16], h.ChunkLen)
	binary.LittleEndian.PutUint64(buf[16:24], h.Length)
	binary.LittleEndian.PutUint32(buf[24:28], h.NumChunks)
	binary.LittleEndian.PutUint32(buf[28:32], h.TableCRC)
	binary.LittleEndian.PutUint64(buf[32:40], h.DataOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.RawBytes)

	h.Checksum = hash.CRC32C(buf[:56])
	binary.LittleEndian.PutUint32(buf[56:60], h.Checksum)
	return buf
}

func (h *Header) unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: short header", ErrCorrupted)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.DType = buf[8]
	h.Compression = compress.Type(buf[9])
	h.ChunkLen = binary.LittleEndian.Uint32(buf[12:16])
	h.Length = binary.LittleEndian.Uint64(buf[16:24])
	h.NumChunks = binary.LittleEndian.Uint32(buf[24:28])
	h.TableCRC = binary.LittleEndian.Uint32(buf[28:32])
	h.DataOffset = binary.LittleEndian.Uint64(buf[32:40])
	h.RawBytes = binary.LittleEndian.Uint64(buf[40:48])
	h.Checksum = binary.LittleEndian.Uint32(buf[56:60])

	if h.Magic != FormatMagic {
		return fmt.Errorf("%w: invalid magic %#x", ErrCorrupted, h.Magic)
	}
	if h.Version > FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupted, h.Version)
	}
	if hash.CRC32C(buf[:56]) != h.Checksum {
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupted)
	}
	if h.Length > 0 && h.ChunkLen == 0 {
		return fmt.Errorf("%w: zero chunk length", ErrCorrupted)
	}
	if h.ChunkLen > 0 {
		want := (h.Length + uint64(h.ChunkLen) - 1) / uint64(h.ChunkLen)
		if want != uint64(h.NumChunks) {
			return fmt.Errorf("%w: %d chunks for %d elements", ErrCorrupted, h.NumChunks, h.Length)
		}
	}
	if h.DataOffset != uint64(HeaderSize)+uint64(h.NumChunks)*EntrySize {
		return fmt.Errorf("%w: bad data offset", ErrCorrupted)
	}
	return nil
}

func marshalTable(entries []Entry) []byte {
	buf := make([]byte, len(entries)*EntrySize)
	for i, e := range entries {
		b := buf[i*EntrySize:]
		binary.LittleEndian.PutUint64(b[0:8], e.Offset)
		binary.LittleEndian.PutUint32(b[8:12], e.Size)
		binary.LittleEndian.PutUint32(b[12:16], e.RawSize)
		binary.LittleEndian.PutUint32(b[16:20], e.CRC)
		b[20] = byte(e.Codec)
	}
	return buf
}

func unmarshalTable(buf []byte, n int, h *Header, fileSize int64) ([]Entry, error) {
	if hash.CRC32C(buf) != h.TableCRC {
		return nil, fmt.Errorf("%w: chunk table checksum mismatch", ErrCorrupted)
	}
	entries := make([]Entry, n)
	next := h.DataOffset
	for i := range entries {
		b := buf[i*EntrySize:]
		e := Entry{
			Offset:  binary.LittleEndian.Uint64(b[0:8]),
			Size:    binary.LittleEndian.Uint32(b[8:12]),
			RawSize: binary.LittleEndian.Uint32(b[12:16]),
			CRC:     binary.LittleEndian.Uint32(b[16:20]),
			Codec:   compress.Type(b[20]),
		}
		if e.Offset != next || !e.Codec.Valid() {
			return nil, fmt.Errorf("%w: bad table entry %d", ErrCorrupted, i)
		}
		next += uint64(e.Size)
		entries[i] = e
	}
	if int64(next) != fileSize {
		return nil, fmt.Errorf("%w: payload ends at %d, file has %d bytes", ErrCorrupted, next, fileSize)
	}
	return entries, nil
}
