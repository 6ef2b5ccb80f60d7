package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// ErrExists is returned by PutIfAbsent when the blob is already present.
var ErrExists = os.ErrExist

// ErrUnsupported is returned when a store lacks an optional capability.
var ErrUnsupported = errors.New("blobstore: operation not supported")

// BlobStore stores immutable named blobs. Names use '/' as separator.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create opens a streaming writer. The blob becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically: readers see either the old or the new
	// content, never a prefix.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	// ReadAt reads len(p) bytes at off. A short read returns io.EOF.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange streams length bytes starting at off.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64
	io.Closer
}

// WritableBlob is a streaming writer returned by Create.
type WritableBlob interface {
	io.Writer
	// Close publishes the blob.
	Close() error
	// Sync flushes buffered data to durable storage if the backend has any.
	Sync() error
}

// Mappable is an optional interface for blobs backed by memory maps.
type Mappable interface {
	// Bytes returns the blob contents without copying.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ConditionalPutter is implemented by stores that can create a blob only if
// it does not exist yet. The writer lock is built on it.
type ConditionalPutter interface {
	// PutIfAbsent writes data under name unless the name exists, in which
	// case it returns ErrExists.
	PutIfAbsent(ctx context.Context, name string, data []byte) error
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, err
	}
	return buf[:n], nil
}

// Copy copies every blob named in names from src to dst.
func Copy(ctx context.Context, dst, src BlobStore, names []string) error {
	for _, name := range names {
		data, err := ReadAll(ctx, src, name)
		if err != nil {
			return err
		}
		if err := dst.Put(ctx, name, data); err != nil {
			return err
		}
	}
	return nil
}

// sectionReader adapts a context-aware ReaderAt to io.Reader.
type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

func newSectionReader(ctx context.Context, b Blob, off, length int64) io.ReadCloser {
	limit := min(off+length, b.Size())
	return io.NopCloser(&sectionReader{ctx: ctx, blob: b, off: off, limit: limit})
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}
