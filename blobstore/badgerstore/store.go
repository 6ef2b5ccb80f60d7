// Package badgerstore implements blobstore.BlobStore on an embedded Badger
// key-value database.
//
// A blob is stored as fixed-size parts under a per-write generation plus one
// metadata key. The metadata key is written last in its own transaction, so a
// blob is either fully visible or not visible at all, independent of how many
// parts it has.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/hupe1980/anndata/blobstore"
)

const (
	metaPrefix = "m/"
	partPrefix = "p/"

	// DefaultPartSize is the size of each stored value.
	DefaultPartSize = 4 << 20
)

// Store is a Badger-backed BlobStore.
type Store struct {
	db       *badger.DB
	partSize int
	owned    bool
}

// Option configures a Store.
type Option func(*Store)

// WithPartSize overrides the part size.
func WithPartSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.partSize = n
		}
	}
}

// Open opens (or creates) a Badger database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(dir)
	bopts.Logger = nil
	bopts.SyncWrites = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing database. Close does not close db.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, partSize: DefaultPartSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type meta struct {
	size int64
	gen  string
}

func encodeMeta(m meta) []byte {
	buf := make([]byte, 8, 8+len(m.gen))
	binary.LittleEndian.PutUint64(buf, uint64(m.size))
	return append(buf, m.gen...)
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) < 8 {
		return meta{}, errors.New("badgerstore: corrupt blob metadata")
	}
	return meta{size: int64(binary.LittleEndian.Uint64(b)), gen: string(b[8:])}, nil
}

func metaKey(name string) []byte { return []byte(metaPrefix + name) }

func partKey(name, gen string, i int) []byte {
	return fmt.Appendf(nil, "%s%s\x00%s\x00%08d", partPrefix, name, gen, i)
}

func (s *Store) readMeta(txn *badger.Txn, name string) (meta, error) {
	item, err := txn.Get(metaKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return meta{}, blobstore.ErrNotFound
		}
		return meta{}, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return meta{}, err
	}
	return decodeMeta(v)
}

// Open opens a blob for reading. The handle reads the generation that was
// current when it was opened.
func (s *Store) Open(_ context.Context, name string) (blobstore.Blob, error) {
	var m meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = s.readMeta(txn, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &blob{store: s, name: name, meta: m}, nil
}

// Create returns a buffered writer that publishes via Put on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return &writableBlob{ctx: ctx, store: s, name: name}, nil
}

func (s *Store) writeParts(name, gen string, data []byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, off := 0, 0; off < len(data); i, off = i+1, off+s.partSize {
		end := min(off+s.partSize, len(data))
		if err := wb.Set(partKey(name, gen, i), data[off:end]); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) dropParts(name string, m meta) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	n := int((m.size + int64(s.partSize) - 1) / int64(s.partSize))
	for i := range n {
		if err := wb.Delete(partKey(name, m.gen, i)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) put(name string, data []byte, ifAbsent bool) error {
	gen := uuid.NewString()
	if err := s.writeParts(name, gen, data); err != nil {
		return err
	}
	m := meta{size: int64(len(data)), gen: gen}

	var old meta
	var hadOld bool
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, err := s.readMeta(txn, name)
		switch {
		case err == nil:
			if ifAbsent {
				return blobstore.ErrExists
			}
			old, hadOld = prev, true
		case !errors.Is(err, blobstore.ErrNotFound):
			return err
		}
		return txn.Set(metaKey(name), encodeMeta(m))
	})
	if err != nil {
		_ = s.dropParts(name, m)
		return err
	}
	if hadOld {
		_ = s.dropParts(name, old)
	}
	return nil
}

// Put writes a blob atomically.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	return s.put(name, data, false)
}

// PutIfAbsent writes a blob unless one exists under name.
func (s *Store) PutIfAbsent(_ context.Context, name string, data []byte) error {
	return s.put(name, data, true)
}

// Delete removes a blob.
func (s *Store) Delete(_ context.Context, name string) error {
	var old meta
	var found bool
	err := s.db.Update(func(txn *badger.Txn) error {
		m, err := s.readMeta(txn, name)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil
			}
			return err
		}
		old, found = m, true
		return txn.Delete(metaKey(name))
	})
	if err != nil || !found {
		return err
	}
	return s.dropParts(name, old)
}

// List returns blob names under prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	seek := metaKey(prefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), metaPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

type blob struct {
	store *Store
	name  string
	meta  meta
}

func (b *blob) Size() int64  { return b.meta.size }
func (b *blob) Close() error { return nil }

func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.meta.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	want := p
	if off+int64(len(p)) > b.meta.size {
		want = p[:b.meta.size-off]
	}

	ps := int64(b.store.partSize)
	total := 0
	err := b.store.db.View(func(txn *badger.Txn) error {
		for total < len(want) {
			pos := off + int64(total)
			part := int(pos / ps)
			item, err := txn.Get(partKey(b.name, b.meta.gen, part))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return blobstore.ErrNotFound
				}
				return err
			}
			err = item.Value(func(v []byte) error {
				total += copy(want[total:], v[pos-int64(part)*ps:])
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	length = min(length, b.meta.size-off)
	if length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	buf := make([]byte, length)
	n, err := b.ReadAt(ctx, buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf[:n])), nil
}

type writableBlob struct {
	ctx   context.Context
	store *Store
	name  string
	buf   bytes.Buffer
}

func (w *writableBlob) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *writableBlob) Sync() error                 { return nil }
func (w *writableBlob) Close() error                { return w.store.Put(w.ctx, w.name, w.buf.Bytes()) }

var (
	_ blobstore.BlobStore         = (*Store)(nil)
	_ blobstore.ConditionalPutter = (*Store)(nil)
)
