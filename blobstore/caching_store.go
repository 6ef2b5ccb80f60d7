package blobstore

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/anndata/internal/cache"
)

// CachingStore wraps a BlobStore and keeps fixed-size blocks of read blobs
// in a block cache. It is meant for remote stores where each read is a
// round trip.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 256KiB if <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 256 << 10
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Inner returns the wrapped store.
func (s *CachingStore) Inner() BlobStore { return s.inner }

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through; blobs are immutable once published.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// PutIfAbsent forwards to the inner store when it supports conditional writes.
func (s *CachingStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	cp, ok := s.inner.(ConditionalPutter)
	if !ok {
		return ErrUnsupported
	}
	return cp.PutIfAbsent(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool { return key.Blob == name })
}

type cachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }
func (b *cachingBlob) Size() int64  { return b.inner.Size() }

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	want := p
	if off+int64(len(p)) > size {
		want = p[:size-off]
	}

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(want)) - 1) / b.blockSize

	blocks, err := b.fetch(ctx, startBlock, endBlock)
	if err != nil {
		return 0, err
	}

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize
		lo := max(blkStart, off)
		hi := min(blkStart+b.blockSize, off+int64(len(want)))
		data := blocks[blk-startBlock]
		src := lo - blkStart
		if src >= int64(len(data)) {
			break
		}
		total += copy(want[lo-off:hi-off], data[src:])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// fetch returns the blocks in [startBlock, endBlock], filling misses with one
// backend request per contiguous run.
func (b *cachingBlob) fetch(ctx context.Context, startBlock, endBlock int64) ([][]byte, error) {
	blocks := make([][]byte, endBlock-startBlock+1)

	type run struct{ start, count int64 }
	var runs []run
	for blk := startBlock; blk <= endBlock; blk++ {
		if data, ok := b.cache.Get(ctx, cache.Key{Blob: b.name, Block: uint64(blk)}); ok {
			blocks[blk-startBlock] = data
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
		} else {
			runs = append(runs, run{start: blk, count: 1})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	for _, r := range runs {
		g.Go(func() error {
			byteStart := r.start * b.blockSize
			byteSize := min(r.count*b.blockSize, b.Size()-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := range r.count {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run buffer.
				block := make([]byte, hi-lo)
				copy(block, buf[lo:hi])

				blk := r.start + i
				blocks[blk-startBlock] = block
				b.cache.Set(gctx, cache.Key{Blob: b.name, Block: uint64(blk)}, block)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (b *cachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length), nil
}
