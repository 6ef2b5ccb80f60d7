package cas

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/internal/compress"
	"github.com/hupe1980/anndata/lock"
	"github.com/hupe1980/anndata/resource"
)

// Mode selects how a store is opened.
type Mode uint8

const (
	// ReadOnly handles never lock and only see committed manifests.
	ReadOnly Mode = iota
	// ReadWrite handles own the container's writer lock.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Compression selects the chunk codec for new components.
type Compression uint8

const (
	CompressionNone Compression = Compression(compress.None)
	CompressionLZ4  Compression = Compression(compress.LZ4)
	CompressionZSTD Compression = Compression(compress.ZSTD)
)

func (c Compression) String() string { return compress.Type(c).String() }

// ParseCompression parses "none", "lz4" or "zstd". The empty string means
// LZ4.
func ParseCompression(s string) (Compression, error) {
	t, err := compress.ParseType(s)
	if err != nil {
		return 0, err
	}
	return Compression(t), nil
}

// DefaultChunkLen is the default number of elements per chunk.
const DefaultChunkLen = 1 << 16

type options struct {
	logger      *slog.Logger
	locker      lock.Locker
	compression compress.Type
	chunkLen    int
	rc          *resource.Controller
	codec       codec.Codec
	inMemory    bool
	overwrite   bool
}

// Option configures Open and Create.
type Option func(*options)

func applyOptions(store blobstore.BlobStore, opts []Option) (options, error) {
	o := options{
		logger:      slog.New(slog.DiscardHandler),
		compression: compress.LZ4,
		chunkLen:    DefaultChunkLen,
		codec:       codec.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = lock.NewStoreLocker(store)
	}
	if o.chunkLen <= 0 {
		return o, fmt.Errorf("cas: chunk length must be positive, got %d", o.chunkLen)
	}
	if !o.compression.Valid() {
		return o, fmt.Errorf("cas: unknown compression %d", o.compression)
	}
	return o, nil
}

// WithLogger sets the logger. Nil keeps the discarding default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocker replaces the default lock blob with another lock provider,
// e.g. lock.DynamoLocker for stores without conditional puts.
func WithLocker(l lock.Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithCompression sets the codec for components written by this handle.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = compress.Type(c)
	}
}

// WithChunkSize sets the number of elements per chunk for new components.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkLen = n
	}
}

// WithResourceController bounds IO bandwidth used by reads and writes.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithCodec sets the attribute codec of a new container. Existing
// containers keep the codec recorded in their manifest.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithInMemory copies every published blob into memory on open, so reads
// never touch the backend.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithOverwrite lets Create replace an existing container.
func WithOverwrite() Option {
	return func(o *options) {
		o.overwrite = true
	}
}
