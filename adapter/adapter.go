// Package adapter defines the contract between file-format readers and
// container import. An Adapter turns a source into a stream of entries,
// each a value destined for one element path of a new container.
package adapter

import (
	"bufio"
	"context"
	"io"
	"iter"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/hupe1980/anndata/resource"
)

// Entry is one element produced by an adapter. Value is a cas matrix,
// array, scalar or categorical, a *frame.Frame, or a plain Go slice or
// scalar.
type Entry struct {
	Path  string
	Value any
}

// Adapter parses a source into entries.
type Adapter interface {
	// Name identifies the format, e.g. "mtx".
	Name() string
	// Parse yields the entries of source. Iteration stops at the first
	// error.
	Parse(ctx context.Context, source string) iter.Seq2[Entry, error]
}

// Fail returns a sequence that yields err once.
func Fail(err error) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		yield(Entry{}, err)
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var gzipMagic = []byte{0x1f, 0x8b}

// Open opens a local file for reading. Gzip input is detected by its magic
// bytes and decompressed transparently. Reads are throttled by rc.
func Open(ctx context.Context, path string, rc *resource.Controller) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return Wrap(ctx, f, rc)
}

// Wrap is Open for an already open reader. Closing the result closes r
// as well when it is an io.Closer.
func Wrap(ctx context.Context, r io.Reader, rc *resource.Controller) (io.ReadCloser, error) {
	out := &readCloser{}
	if c, ok := r.(io.Closer); ok {
		out.closers = append(out.closers, c)
	}
	br := bufio.NewReaderSize(resource.NewRateLimitedReader(ctx, r, rc), 1<<16)
	head, _ := br.Peek(2)
	if len(head) == 2 && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out.Reader = zr
		out.closers = append(out.closers, zr)
		return out, nil
	}
	out.Reader = br
	return out, nil
}

// FirstExisting returns the first of paths that exists.
func FirstExisting(paths ...string) (string, bool) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
