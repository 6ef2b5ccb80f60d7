package chunk

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/anndata/internal/compress"
	"github.com/hupe1980/anndata/internal/conv"
	"github.com/hupe1980/anndata/internal/hash"
)

// Builder assembles a chunk file in memory.
type Builder struct {
	hdr     Header
	entries []Entry
	payload bytes.Buffer
	closed  bool // a short chunk was added; no more chunks allowed
}

// NewBuilder starts a chunk file for elements of type code dtype.
func NewBuilder(dtype uint8, codec compress.Type, chunkLen int) *Builder {
	return &Builder{
		hdr: Header{
			Magic:       FormatMagic,
			Version:     FormatVersion,
			DType:       dtype,
			Compression: codec,
			ChunkLen:    uint32(chunkLen),
		},
	}
}

// Add appends one chunk holding n elements encoded in raw. Every chunk but
// the last must hold exactly ChunkLen elements.
func (b *Builder) Add(raw []byte, n int) error {
	if n <= 0 || n > int(b.hdr.ChunkLen) {
		return fmt.Errorf("chunk: %d elements in a chunk of %d", n, b.hdr.ChunkLen)
	}
	if b.closed {
		return fmt.Errorf("chunk: chunk added after a short chunk")
	}
	if n < int(b.hdr.ChunkLen) {
		b.closed = true
	}

	rawSize, err := conv.IntToUint32(len(raw))
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	stored, codec, err := compress.Encode(raw, b.hdr.Compression)
	if err != nil {
		return err
	}
	size, err := conv.IntToUint32(len(stored))
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	b.entries = append(b.entries, Entry{
		Offset:  uint64(b.payload.Len()), // relative until Bytes
		Size:    size,
		RawSize: rawSize,
		CRC:     hash.CRC32C(stored),
		Codec:   codec,
	})
	b.payload.Write(stored)
	b.hdr.Length += uint64(n)
	b.hdr.RawBytes += uint64(len(raw))
	return nil
}

// Bytes returns the complete file.
func (b *Builder) Bytes() []byte {
	hdr := b.hdr
	hdr.NumChunks = uint32(len(b.entries))
	hdr.DataOffset = uint64(HeaderSize) + uint64(len(b.entries))*EntrySize

	entries := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		e.Offset += hdr.DataOffset
		entries[i] = e
	}
	table := marshalTable(entries)
	hdr.TableCRC = hash.CRC32C(table)

	out := make([]byte, 0, int(hdr.DataOffset)+b.payload.Len())
	out = append(out, hdr.marshal()...)
	out = append(out, table...)
	out = append(out, b.payload.Bytes()...)
	return out
}
