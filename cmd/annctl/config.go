package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/anndata"
	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/blobstore/badgerstore"
	"github.com/hupe1980/anndata/blobstore/minio"
	"github.com/hupe1980/anndata/blobstore/s3"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/internal/cache"
	"github.com/hupe1980/anndata/lock"
	"github.com/hupe1980/anndata/resource"
)

// Config is the optional YAML configuration of annctl. ${VAR} references
// are expanded from the environment before parsing.
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	Compression string         `yaml:"compression"`
	ChunkSize   int            `yaml:"chunk_size"`
	Backend     BackendConfig  `yaml:"backend"`
	Cache       CacheConfig    `yaml:"cache"`
	Resources   ResourceConfig `yaml:"resources"`
}

// BackendConfig selects where containers live. Container locations given
// on the command line are directories for local and badger, and key
// prefixes inside the bucket for minio and s3.
type BackendConfig struct {
	Kind  string      `yaml:"kind"`
	MinIO MinIOConfig `yaml:"minio"`
	S3    S3Config    `yaml:"s3"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// LockTable enables the DynamoDB writer lock.
	LockTable string `yaml:"lock_table"`
}

// CacheConfig sizes the block cache put in front of remote backends.
// Zero Bytes disables it.
type CacheConfig struct {
	Bytes     int64 `yaml:"bytes"`
	BlockSize int64 `yaml:"block_size"`
}

type ResourceConfig struct {
	MemoryLimit int64 `yaml:"memory_limit"`
	MaxWorkers  int64 `yaml:"max_workers"`
	IOLimit     int64 `yaml:"io_limit"`
}

const defaultBlockSize = 1 << 20

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Backend:  BackendConfig{Kind: "local"},
		Cache:    CacheConfig{BlockSize: defaultBlockSize},
	}
}

// loadConfig reads path. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend.Kind {
	case "local", "badger":
	case "minio":
		if c.Backend.MinIO.Endpoint == "" || c.Backend.MinIO.Bucket == "" {
			return errors.New("minio backend needs endpoint and bucket")
		}
	case "s3":
		if c.Backend.S3.Bucket == "" {
			return errors.New("s3 backend needs a bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}
	if _, err := parseCompression(c.Compression); err != nil {
		return err
	}
	var lvl slog.Level
	return lvl.UnmarshalText([]byte(c.LogLevel))
}

func parseCompression(s string) (cas.Compression, error) {
	switch strings.ToLower(s) {
	case "", "lz4":
		return cas.CompressionLZ4, nil
	case "zstd":
		return cas.CompressionZSTD, nil
	case "none":
		return cas.CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// newLogger writes colored logs to w when it is a terminal.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})), nil
}

// env carries what every command needs.
type env struct {
	cfg    Config
	logger *slog.Logger
	rc     *resource.Controller
	stdout io.Writer
}

func newEnv(cfg Config, stdout, stderr io.Writer) (*env, error) {
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   cfg.Resources.MemoryLimit,
		MaxWorkers:         cfg.Resources.MaxWorkers,
		IOLimitBytesPerSec: cfg.Resources.IOLimit,
	})
	return &env{cfg: cfg, logger: logger, rc: rc, stdout: stdout}, nil
}

// backend is an opened blob store plus whatever must be closed with it.
type backend struct {
	blobstore.BlobStore
	locker lock.Locker
	close  func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func (e *env) openBackend(ctx context.Context, location string) (*backend, error) {
	b := &backend{}
	switch e.cfg.Backend.Kind {
	case "", "local":
		b.BlobStore = blobstore.NewLocalStore(location)
	case "badger":
		st, err := badgerstore.Open(location)
		if err != nil {
			return nil, err
		}
		b.BlobStore, b.close = st, st.Close
	case "minio":
		m := e.cfg.Backend.MinIO
		st, err := minio.Dial(minio.Config{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Secure:    m.Secure,
			Region:    m.Region,
			Bucket:    m.Bucket,
			Prefix:    location,
		})
		if err != nil {
			return nil, fmt.Errorf("dial minio: %w", err)
		}
		b.BlobStore = st
	case "s3":
		c := e.cfg.Backend.S3
		opts := []s3.Option{s3.WithPrefix(location)}
		if c.Region != "" {
			opts = append(opts, s3.WithRegion(c.Region))
		}
		if c.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(c.Endpoint))
		}
		st, err := s3.New(ctx, c.Bucket, opts...)
		if err != nil {
			return nil, err
		}
		b.BlobStore = st
		if c.LockTable != "" {
			var loadOpts []func(*awsconfig.LoadOptions) error
			if c.Region != "" {
				loadOpts = append(loadOpts, awsconfig.WithRegion(c.Region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			key := "s3://" + c.Bucket + "/" + strings.Trim(location, "/")
			b.locker = lock.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), c.LockTable, key)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", e.cfg.Backend.Kind)
	}

	if e.cfg.Cache.Bytes > 0 {
		bc := cache.NewShardedLRUBlockCache(e.cfg.Cache.Bytes, e.rc)
		b.BlobStore = blobstore.NewCachingStore(b.BlobStore, bc, e.cfg.Cache.BlockSize)
	}
	return b, nil
}

// options returns the container options for location.
func (e *env) options(b *backend, location string, extra ...anndata.Option) []anndata.Option {
	comp, _ := parseCompression(e.cfg.Compression)
	storeOpts := []cas.Option{cas.WithCompression(comp)}
	if e.cfg.ChunkSize > 0 {
		storeOpts = append(storeOpts, cas.WithChunkSize(e.cfg.ChunkSize))
	}
	if b.locker != nil {
		storeOpts = append(storeOpts, cas.WithLocker(b.locker))
	}
	opts := []anndata.Option{
		anndata.WithLogger(anndata.NewLogger(e.logger.Handler()).WithContainer(location)),
		anndata.WithResourceController(e.rc),
		anndata.WithStoreOptions(storeOpts...),
	}
	return append(opts, extra...)
}

// container is an open AnnData with its backend.
type container struct {
	*anndata.AnnData
	backend *backend
}

func (c *container) Close() error {
	return errors.Join(c.AnnData.Close(), c.backend.Close())
}

func (e *env) open(ctx context.Context, location string, mode cas.Mode) (*container, error) {
	b, err := e.openBackend(ctx, location)
	if err != nil {
		return nil, err
	}
	ad, err := anndata.Open(ctx, b, mode, e.options(b, location)...)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return &container{AnnData: ad, backend: b}, nil
}

// produce runs fn against a fresh backend at location and wraps the result.
func (e *env) produce(ctx context.Context, location string, fn func(b *backend, opts []anndata.Option) (*anndata.AnnData, error)) (*container, error) {
	b, err := e.openBackend(ctx, location)
	if err != nil {
		return nil, err
	}
	ad, err := fn(b, e.options(b, location))
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return &container{AnnData: ad, backend: b}, nil
}
