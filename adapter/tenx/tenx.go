// Package tenx imports 10x Genomics feature-barcode matrix directories:
// matrix.mtx, barcodes.tsv and features.tsv (or genes.tsv for older
// releases), each optionally gzipped.
package tenx

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/anndata/adapter"
	"github.com/hupe1980/anndata/adapter/mtx"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
	"github.com/hupe1980/anndata/resource"
)

// VarNames selects the var index.
type VarNames uint8

const (
	// GeneSymbols indexes var by the second features column, made unique
	// by appending "-1", "-2", ... to repeats.
	GeneSymbols VarNames = iota
	// GeneIDs indexes var by the first features column.
	GeneIDs
)

// Option configures the adapter.
type Option func(*Adapter)

// WithVarNames selects the var index. The default is GeneSymbols.
func WithVarNames(v VarNames) Option {
	return func(a *Adapter) { a.varNames = v }
}

// WithResourceController throttles reads.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Adapter) { a.rc = rc }
}

// Adapter imports a 10x matrix directory.
type Adapter struct {
	varNames VarNames
	rc       *resource.Controller
}

// New returns a 10x adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return "10x" }

// Parse implements adapter.Adapter. source is the matrix directory. It
// yields X as cells x features CSR, obs indexed by barcode and var with
// gene_ids, gene_symbols and feature_types columns.
func (a *Adapter) Parse(ctx context.Context, dir string) iter.Seq2[adapter.Entry, error] {
	return func(yield func(adapter.Entry, error) bool) {
		matrixPath, ok := find(dir, "matrix.mtx")
		if !ok {
			yield(adapter.Entry{}, fmt.Errorf("%w: no matrix.mtx in %s", cas.ErrNotFound, dir))
			return
		}
		barcodePath, ok := find(dir, "barcodes.tsv")
		if !ok {
			yield(adapter.Entry{}, fmt.Errorf("%w: no barcodes.tsv in %s", cas.ErrNotFound, dir))
			return
		}
		featurePath, ok := find(dir, "features.tsv", "genes.tsv")
		if !ok {
			yield(adapter.Entry{}, fmt.Errorf("%w: no features.tsv or genes.tsv in %s", cas.ErrNotFound, dir))
			return
		}

		x, err := mtx.New(mtx.WithTranspose(), mtx.WithResourceController(a.rc)).ReadFile(ctx, matrixPath)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		obs, err := a.readBarcodes(ctx, barcodePath, x.Rows)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		vr, err := a.readFeatures(ctx, featurePath, x.Cols)
		if err != nil {
			yield(adapter.Entry{}, err)
			return
		}
		for _, e := range []adapter.Entry{{Path: "/X", Value: x}, {Path: "/obs", Value: obs}, {Path: "/var", Value: vr}} {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func find(dir string, names ...string) (string, bool) {
	var paths []string
	for _, n := range names {
		paths = append(paths, filepath.Join(dir, n+".gz"), filepath.Join(dir, n))
	}
	return adapter.FirstExisting(paths...)
}

// readTSV returns the tab-separated fields of every non-empty line.
func (a *Adapter) readTSV(ctx context.Context, path string) ([][]string, error) {
	r, err := adapter.Open(ctx, path, a.rc)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var rows [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			rows = append(rows, strings.Split(line, "\t"))
		}
	}
	return rows, sc.Err()
}

func (a *Adapter) readBarcodes(ctx context.Context, path string, n int) (*frame.Frame, error) {
	rows, err := a.readTSV(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rows) != n {
		return nil, fmt.Errorf("%s: %w", path, &cas.LengthMismatchError{What: "barcodes", Want: int64(n), Got: int64(len(rows))})
	}
	index := make([]string, n)
	for i, r := range rows {
		index[i] = r[0]
	}
	f, err := frame.New(index)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (a *Adapter) readFeatures(ctx context.Context, path string, n int) (*frame.Frame, error) {
	rows, err := a.readTSV(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rows) != n {
		return nil, fmt.Errorf("%s: %w", path, &cas.LengthMismatchError{What: "features", Want: int64(n), Got: int64(len(rows))})
	}
	ids := make([]string, n)
	symbols := make([]string, n)
	types := frame.NewCategorical()
	for i, r := range rows {
		ids[i] = r[0]
		symbols[i] = r[0]
		if len(r) > 1 {
			symbols[i] = r[1]
		}
		if len(r) > 2 {
			types.Append(r[2])
		} else {
			types.Append("Gene Expression")
		}
	}

	index := ids
	if a.varNames == GeneSymbols {
		index = MakeUnique(symbols)
	}
	f, err := frame.New(index)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := f.AppendColumn("gene_ids", ids); err != nil {
		return nil, err
	}
	if a.varNames == GeneIDs {
		if err := f.AppendColumn("gene_symbols", symbols); err != nil {
			return nil, err
		}
	}
	if err := f.AppendColumn("feature_types", types); err != nil {
		return nil, err
	}
	return f, nil
}

// MakeUnique appends "-1", "-2", ... to repeated names, skipping suffixes
// that would collide with existing names.
func MakeUnique(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	seen := make(map[string]int, len(names))
	for i, n := range names {
		k, dup := seen[n]
		seen[n] = k + 1
		if !dup {
			out[i] = n
			continue
		}
		for {
			cand := n + "-" + strconv.Itoa(k)
			k++
			if !taken[cand] {
				taken[cand] = true
				out[i] = cand
				seen[n] = k
				break
			}
		}
	}
	return out
}
