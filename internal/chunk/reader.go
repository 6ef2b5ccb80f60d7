package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/internal/compress"
	"github.com/hupe1980/anndata/internal/conv"
	"github.com/hupe1980/anndata/internal/hash"
	"github.com/hupe1980/anndata/resource"
)

// Reader reads chunks from a chunk file blob. Safe for concurrent use.
type Reader struct {
	blob    blobstore.Blob
	hdr     Header
	entries []Entry
	rc      *resource.Controller
}

// Open reads and validates the header and chunk table of blob. rc may be nil.
func Open(ctx context.Context, blob blobstore.Blob, rc *resource.Controller) (*Reader, error) {
	size := blob.Size()
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: file has %d bytes", ErrCorrupted, size)
	}

	buf := make([]byte, HeaderSize)
	if err := readFull(ctx, blob, buf, 0); err != nil {
		return nil, err
	}
	var hdr Header
	if err := hdr.unmarshal(buf); err != nil {
		return nil, err
	}
	if int64(hdr.DataOffset) > size {
		return nil, fmt.Errorf("%w: truncated chunk table", ErrCorrupted)
	}

	n, err := conv.Uint32ToInt(hdr.NumChunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	table := make([]byte, n*EntrySize)
	if err := readFull(ctx, blob, table, HeaderSize); err != nil {
		return nil, err
	}
	entries, err := unmarshalTable(table, n, &hdr, size)
	if err != nil {
		return nil, err
	}
	return &Reader{blob: blob, hdr: hdr, entries: entries, rc: rc}, nil
}

func readFull(ctx context.Context, blob blobstore.Blob, p []byte, off int64) error {
	n, err := blob.ReadAt(ctx, p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at %d", ErrCorrupted, off)
	}
	return err
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.hdr }

// Len returns the number of elements.
func (r *Reader) Len() int64 { return int64(r.hdr.Length) }

// NumChunks returns the number of chunks.
func (r *Reader) NumChunks() int { return len(r.entries) }

// ChunkLen returns the elements per chunk.
func (r *Reader) ChunkLen() int64 { return int64(r.hdr.ChunkLen) }

// ChunkElems returns the element count of chunk i.
func (r *Reader) ChunkElems(i int) int64 {
	cl := r.ChunkLen()
	return min(cl, r.Len()-int64(i)*cl)
}

// ChunkSpan returns the chunk indices [first, last] covering elements
// [lo, hi). hi must be greater than lo.
func (r *Reader) ChunkSpan(lo, hi int64) (first, last int) {
	cl := r.ChunkLen()
	return int(lo / cl), int((hi - 1) / cl)
}

// ReadChunks returns the decompressed raw bytes of chunks [first, last],
// fetched with a single ranged read.
func (r *Reader) ReadChunks(ctx context.Context, first, last int) ([][]byte, error) {
	if first < 0 || last >= len(r.entries) || first > last {
		return nil, fmt.Errorf("chunk: chunk span [%d, %d] outside %d chunks", first, last, len(r.entries))
	}

	start := r.entries[first].Offset
	end := r.entries[last].Offset + uint64(r.entries[last].Size)
	buf := make([]byte, end-start)

	if err := r.rc.AcquireIO(ctx, len(buf)); err != nil {
		return nil, err
	}
	if err := readFull(ctx, r.blob, buf, int64(start)); err != nil {
		return nil, err
	}

	out := make([][]byte, 0, last-first+1)
	for i := first; i <= last; i++ {
		e := r.entries[i]
		stored := buf[e.Offset-start : e.Offset-start+uint64(e.Size)]
		if hash.CRC32C(stored) != e.CRC {
			return nil, fmt.Errorf("%w: chunk %d checksum mismatch", ErrCorrupted, i)
		}
		raw, err := compress.Decode(stored, e.Codec, int(e.RawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrCorrupted, i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// Close closes the underlying blob.
func (r *Reader) Close() error { return r.blob.Close() }
