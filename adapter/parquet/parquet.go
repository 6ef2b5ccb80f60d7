// Package parquet imports and exports annotation tables as Parquet files
// through Apache Arrow.
package parquet

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	goparquet "github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/frame"
)

// DefaultRowGroupSize is the number of rows per row group on export.
const DefaultRowGroupSize = 64 * 1024

// Option configures the adapter.
type Option func(*Adapter)

// WithAllocator sets the Arrow allocator.
func WithAllocator(mem memory.Allocator) Option {
	return func(a *Adapter) { a.mem = mem }
}

// Adapter imports one Parquet file as the table at a target path such as
// /obs, /var or /uns/metadata.
type Adapter struct {
	target string
	mem    memory.Allocator
}

// New returns an adapter writing to target.
func New(target string, opts ...Option) *Adapter {
	a := &Adapter{target: target, mem: memory.NewGoAllocator()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "parquet" }

// Parse implements adapter.Adapter.
func (a *Adapter) Parse(ctx context.Context, source string) iter.Seq2[adapter.Entry, error] {
	return func(yield func(adapter.Entry, error) bool) {
		f, err := ReadFile(ctx, source, a.mem)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		yield(adapter.Entry{Path: a.target, Value: f}, nil)
	}
}

// ReadFile reads a Parquet file into a frame.
func ReadFile(ctx context.Context, path string, mem memory.Allocator) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := Read(ctx, f, mem)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Read reads a Parquet stream into a frame. The index is restored from the
// stored Arrow schema when present, else from an "_index" column.
func Read(ctx context.Context, r goparquet.ReaderAtSeeker, mem memory.Allocator) (*frame.Frame, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, err
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return frame.FromArrowTable(tbl)
}

// WriteFile writes f to a Parquet file.
func WriteFile(path string, f *frame.Frame, mem memory.Allocator) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(out, f, mem)
}

// Write encodes f as Parquet. Categorical columns are written as strings
// tagged in the stored Arrow schema, so readers without dictionary support
// still see the values.
func Write(w io.Writer, f *frame.Frame, mem memory.Allocator) error {
	rec, err := f.ToArrow(mem, frame.WithPlainCategoricals())
	if err != nil {
		return err
	}
	defer rec.Release()

	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	props := goparquet.NewWriterProperties(goparquet.WithDictionaryDefault(false))
	arrProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	return pqarrow.WriteTable(tbl, w, DefaultRowGroupSize, props, arrProps)
}
