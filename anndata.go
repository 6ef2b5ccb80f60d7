package anndata

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/frame"
)

// Root attributes of a container.
const (
	attrEncoding        = "encoding-type"
	attrEncodingVersion = "encoding-version"
	attrNObs            = "n_obs"
	attrNVar            = "n_var"

	encodingAnnData = "anndata"
	encodingVersion = "0.1.0"
)

type axis uint8

const (
	axisNone axis = iota
	axisObs
	axisVar
)

// collection is a group of keyed elements whose first two axes may be
// bound to n_obs or n_var.
type collection struct {
	name       string
	rows, cols axis
}

var (
	collObsm   = collection{"obsm", axisObs, axisNone}
	collVarm   = collection{"varm", axisVar, axisNone}
	collLayers = collection{"layers", axisObs, axisVar}
	collObsp   = collection{"obsp", axisObs, axisObs}
	collVarp   = collection{"varp", axisVar, axisVar}
	collUns    = collection{"uns", axisNone, axisNone}

	collections = []collection{collObsm, collVarm, collLayers, collObsp, collVarp, collUns}
)

func (c collection) path(key string) string { return cas.Join("/", c.name, key) }

// AnnData is a backed annotated matrix: a primary matrix X of n_obs x n_var,
// obs and var annotation tables and keyed auxiliary elements, all read
// lazily from a cas.Store.
//
// n_obs and n_var are fixed at creation; writes with other axis lengths fail
// with ErrLengthMismatch. A read-write AnnData holds the container's writer
// lock until Close.
type AnnData struct {
	st         *cas.Store
	nObs, nVar int
	opts       options
	logger     *Logger
	metrics    MetricsCollector
}

// Create creates an empty container with the given axis lengths. obs and var
// start with the index "0".."n-1" and no columns.
func Create(ctx context.Context, store blobstore.BlobStore, nObs, nVar int, opts ...Option) (*AnnData, error) {
	o := applyOptions(opts)
	start := time.Now()
	ad, err := create(ctx, store, nObs, nVar, o, func(b *cas.Batch) error {
		if err := frame.WriteFrame(ctx, b, "/obs", frame.Range(nObs)); err != nil {
			return err
		}
		return frame.WriteFrame(ctx, b, "/var", frame.Range(nVar))
	})
	o.metricsCollector.RecordOpen(time.Since(start), err)
	o.logger.LogOpen(ctx, "create", nObs, nVar, err)
	return ad, err
}

// create makes a new container whose content is staged by fill in the same
// batch as the root attributes. Nothing is published unless that batch
// commits, so on failure the destination keeps its previous state.
func create(ctx context.Context, store blobstore.BlobStore, nObs, nVar int, o options, fill func(b *cas.Batch) error) (*AnnData, error) {
	if nObs < 0 || nVar < 0 {
		return nil, fmt.Errorf("%w: negative shape %d x %d", ErrOutOfRange, nObs, nVar)
	}
	st, err := cas.Create(ctx, store, o.casOptions()...)
	if err != nil {
		return nil, err
	}
	err = func() error {
		b, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		if err := stageSkeleton(b, nObs, nVar); err == nil {
			err = fill(b)
		}
		if err != nil {
			b.Abort(ctx)
			return err
		}
		return b.Commit(ctx)
	}()
	if err != nil {
		if aerr := st.Abandon(ctx); aerr != nil {
			o.logger.WarnContext(ctx, "failed to abandon incomplete container", "error", aerr)
		}
		return nil, err
	}
	return &AnnData{st: st, nObs: nObs, nVar: nVar, opts: o, logger: o.logger, metrics: o.metricsCollector}, nil
}

func stageSkeleton(b *cas.Batch, nObs, nVar int) error {
	if err := b.SetAttrs("/", codec.Attrs{
		attrEncoding:        encodingAnnData,
		attrEncodingVersion: encodingVersion,
		attrNObs:            nObs,
		attrNVar:            nVar,
	}); err != nil {
		return err
	}
	for _, c := range collections {
		if err := b.CreateGroup("/"+c.name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Open opens an existing container. The layout is checked up front: axis
// lengths of obs, var, X and every axis-bound element must agree with the
// recorded shape, else ErrCorruptFormat.
func Open(ctx context.Context, store blobstore.BlobStore, mode cas.Mode, opts ...Option) (*AnnData, error) {
	o := applyOptions(opts)
	start := time.Now()
	ad, err := open(ctx, store, mode, o)
	o.metricsCollector.RecordOpen(time.Since(start), err)
	if err != nil {
		o.logger.LogOpen(ctx, mode.String(), 0, 0, err)
		return nil, err
	}
	o.logger.LogOpen(ctx, mode.String(), ad.nObs, ad.nVar, nil)
	return ad, nil
}

func open(ctx context.Context, store blobstore.BlobStore, mode cas.Mode, o options) (*AnnData, error) {
	st, err := cas.Open(ctx, store, mode, o.casOptions()...)
	if err != nil {
		return nil, err
	}
	ad, err := wrap(st, o)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return ad, nil
}

// Read opens the container in a local directory read-only.
func Read(ctx context.Context, path string, opts ...Option) (*AnnData, error) {
	opts = append([]Option{func(o *options) { o.logger = o.logger.WithContainer(path) }}, opts...)
	return Open(ctx, blobstore.NewLocalStore(path), cas.ReadOnly, opts...)
}

func wrap(st *cas.Store, o options) (*AnnData, error) {
	attrs, err := st.Attrs("/")
	if err != nil {
		return nil, err
	}
	if enc, _ := attrs.String(attrEncoding); enc != encodingAnnData {
		return nil, fmt.Errorf("%w: not an annotated matrix container", ErrCorruptFormat)
	}
	nObs, ok1 := attrs.Int(attrNObs)
	nVar, ok2 := attrs.Int(attrNVar)
	if !ok1 || !ok2 || nObs < 0 || nVar < 0 {
		return nil, fmt.Errorf("%w: missing or bad shape attributes", ErrCorruptFormat)
	}
	ad := &AnnData{st: st, nObs: int(nObs), nVar: int(nVar), opts: o, logger: o.logger, metrics: o.metricsCollector}
	if err := ad.validate(); err != nil {
		return nil, err
	}
	return ad, nil
}

func (a *AnnData) validate() error {
	for _, t := range []struct {
		path string
		n    int
	}{{"/obs", a.nObs}, {"/var", a.nVar}} {
		tbl, err := frame.OpenTable(a.st, t.path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptFormat, t.path, err)
		}
		if tbl.Len() != t.n {
			return fmt.Errorf("%w: %s has %d rows, want %d", ErrCorruptFormat, t.path, tbl.Len(), t.n)
		}
	}
	if info, err := a.st.Node("/X"); err == nil {
		if err := a.checkAxes(collection{"X", axisObs, axisVar}, info); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptFormat, err)
		}
	}
	for _, c := range collections {
		keys, err := a.st.ListChildren("/" + c.name)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorruptFormat, c.name, err)
		}
		for _, k := range keys {
			info, err := a.st.Node(c.path(k))
			if err != nil {
				return err
			}
			if err := a.checkAxes(c, info); err != nil {
				return fmt.Errorf("%w: %w", ErrCorruptFormat, err)
			}
		}
	}
	return nil
}

func (a *AnnData) axisLen(x axis) int {
	switch x {
	case axisObs:
		return a.nObs
	case axisVar:
		return a.nVar
	default:
		return -1
	}
}

// checkAxes validates a stored node against the axes of c.
func (a *AnnData) checkAxes(c collection, info cas.NodeInfo) error {
	rows, cols := int(info.Rows()), -1
	if len(info.Shape) > 1 {
		cols = int(info.Cols())
	}
	if info.Kind == cas.KindGroup {
		if c.rows == axisNone {
			return nil
		}
		tbl, err := frame.OpenTable(a.st, info.Path)
		if err != nil {
			return err
		}
		rows = tbl.Len()
	}
	return a.checkShape(c, info.Path, rows, cols)
}

func (a *AnnData) checkShape(c collection, path string, rows, cols int) error {
	if n := a.axisLen(c.rows); n >= 0 && rows != n {
		return lengthMismatch(path+" rows", n, rows)
	}
	if n := a.axisLen(c.cols); n >= 0 && cols != n {
		return lengthMismatch(path+" columns", n, cols)
	}
	return nil
}

// Store returns the underlying store.
func (a *AnnData) Store() *cas.Store { return a.st }

// Mode returns the mode the container was opened with.
func (a *AnnData) Mode() cas.Mode { return a.st.Mode() }

// NObs returns the number of observations (rows).
func (a *AnnData) NObs() int { return a.nObs }

// NVar returns the number of variables (columns).
func (a *AnnData) NVar() int { return a.nVar }

// Shape returns (n_obs, n_var).
func (a *AnnData) Shape() (int, int) { return a.nObs, a.nVar }

// Close releases the writer lock. Writes are committed as they happen, so
// there is nothing left to flush.
func (a *AnnData) Close() error {
	return a.st.Close()
}

// X returns a handle to the primary matrix.
func (a *AnnData) X() (*MatrixHandle, error) {
	return a.matrix("/X")
}

// SetX replaces the primary matrix. m must be n_obs x n_var. enc chooses
// the layout of sparse matrices; EncodingNone keeps the matrix's own.
func (a *AnnData) SetX(ctx context.Context, m cas.Matrix, enc cas.Encoding) error {
	return a.put(ctx, collection{"X", axisObs, axisVar}, "/X", m, enc)
}

// Obs returns the observation annotation table.
func (a *AnnData) Obs() (*frame.Table, error) { return frame.OpenTable(a.st, "/obs") }

// Var returns the variable annotation table.
func (a *AnnData) Var() (*frame.Table, error) { return frame.OpenTable(a.st, "/var") }

// SetObs replaces the observation table. f must have n_obs rows.
func (a *AnnData) SetObs(ctx context.Context, f *frame.Frame) error {
	return a.put(ctx, collection{"obs", axisObs, axisNone}, "/obs", f, cas.EncodingNone)
}

// SetVar replaces the variable table. f must have n_var rows.
func (a *AnnData) SetVar(ctx context.Context, f *frame.Frame) error {
	return a.put(ctx, collection{"var", axisVar, axisNone}, "/var", f, cas.EncodingNone)
}

// put replaces the element at p in one commit after checking its axes.
func (a *AnnData) put(ctx context.Context, c collection, p string, v any, enc cas.Encoding) (err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordWrite(time.Since(start), err)
		a.logger.LogWrite(ctx, p, err)
	}()

	v, rows, cols, err := shapeOf(v)
	if err != nil {
		return err
	}
	if err := a.checkShape(c, p, rows, cols); err != nil {
		return err
	}
	b, err := a.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := stageElement(ctx, b, p, v, enc); err != nil {
		b.Abort(ctx)
		return err
	}
	return b.Commit(ctx)
}

// stageElement replaces p in b with v.
func stageElement(ctx context.Context, b *cas.Batch, p string, v any, enc cas.Encoding) error {
	if b.Exists(p) {
		if err := b.Delete(p); err != nil {
			return err
		}
	}
	switch x := v.(type) {
	case *frame.Frame:
		return frame.WriteFrame(ctx, b, p, x)
	default:
		return b.WriteArray(ctx, p, v, enc)
	}
}

// shapeOf normalizes v to a storable value and returns its first two axis
// lengths; -1 marks an absent axis.
func shapeOf(v any) (any, int, int, error) {
	switch x := v.(type) {
	case *cas.Dense:
		return x, x.Rows, x.Cols, nil
	case *cas.Sparse:
		return x, x.Rows, x.Cols, nil
	case *frame.Frame:
		return x, x.Len(), -1, nil
	case *cas.Categorical:
		return x, x.Len(), -1, nil
	case cas.Scalar:
		return x, -1, -1, nil
	case cas.Array:
		return x, x.Len(), -1, nil
	case nil:
		return nil, 0, 0, fmt.Errorf("%w: nil element", ErrTypeMismatch)
	default:
		if arr, err := cas.FromValues(v); err == nil {
			return arr, arr.Len(), -1, nil
		}
		sc, err := cas.NewScalar(v)
		if err != nil {
			return nil, 0, 0, err
		}
		return sc, -1, -1, nil
	}
}

func (a *AnnData) node(p string) (*Element, error) {
	info, err := a.st.Node(p)
	if err != nil {
		return nil, err
	}
	return &Element{st: a.st, info: info, metrics: a.metrics}, nil
}

func (a *AnnData) matrix(p string) (*MatrixHandle, error) {
	e, err := a.node(p)
	if err != nil {
		return nil, err
	}
	return e.Matrix()
}

func (a *AnnData) keys(c collection) ([]string, error) {
	return a.st.ListChildren("/" + c.name)
}

func (a *AnnData) set(ctx context.Context, c collection, key string, v any) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrNotFound)
	}
	return a.put(ctx, c, c.path(key), v, cas.EncodingNone)
}

func (a *AnnData) remove(ctx context.Context, c collection, key string) error {
	return a.st.Delete(ctx, c.path(key))
}

// Obsm returns the observation-aligned element key: a matrix, a 1-D array
// or a dataframe.
func (a *AnnData) Obsm(key string) (*Element, error) { return a.node(collObsm.path(key)) }

// SetObsm writes an element with n_obs rows.
func (a *AnnData) SetObsm(ctx context.Context, key string, v any) error {
	return a.set(ctx, collObsm, key, v)
}

// ObsmKeys lists the obsm keys.
func (a *AnnData) ObsmKeys() ([]string, error) { return a.keys(collObsm) }

// DeleteObsm removes an obsm element.
func (a *AnnData) DeleteObsm(ctx context.Context, key string) error {
	return a.remove(ctx, collObsm, key)
}

// Varm returns the variable-aligned element key.
func (a *AnnData) Varm(key string) (*Element, error) { return a.node(collVarm.path(key)) }

// SetVarm writes an element with n_var rows.
func (a *AnnData) SetVarm(ctx context.Context, key string, v any) error {
	return a.set(ctx, collVarm, key, v)
}

// VarmKeys lists the varm keys.
func (a *AnnData) VarmKeys() ([]string, error) { return a.keys(collVarm) }

// DeleteVarm removes a varm element.
func (a *AnnData) DeleteVarm(ctx context.Context, key string) error {
	return a.remove(ctx, collVarm, key)
}

// Layers returns the layer key, a matrix shaped like X.
func (a *AnnData) Layers(key string) (*MatrixHandle, error) { return a.matrix(collLayers.path(key)) }

// SetLayers writes an n_obs x n_var layer.
func (a *AnnData) SetLayers(ctx context.Context, key string, m cas.Matrix) error {
	return a.set(ctx, collLayers, key, m)
}

// LayersKeys lists the layer names.
func (a *AnnData) LayersKeys() ([]string, error) { return a.keys(collLayers) }

// DeleteLayers removes a layer.
func (a *AnnData) DeleteLayers(ctx context.Context, key string) error {
	return a.remove(ctx, collLayers, key)
}

// Obsp returns the pairwise observation matrix key.
func (a *AnnData) Obsp(key string) (*MatrixHandle, error) { return a.matrix(collObsp.path(key)) }

// SetObsp writes an n_obs x n_obs matrix.
func (a *AnnData) SetObsp(ctx context.Context, key string, m cas.Matrix) error {
	return a.set(ctx, collObsp, key, m)
}

// ObspKeys lists the obsp keys.
func (a *AnnData) ObspKeys() ([]string, error) { return a.keys(collObsp) }

// DeleteObsp removes an obsp matrix.
func (a *AnnData) DeleteObsp(ctx context.Context, key string) error {
	return a.remove(ctx, collObsp, key)
}

// Varp returns the pairwise variable matrix key.
func (a *AnnData) Varp(key string) (*MatrixHandle, error) { return a.matrix(collVarp.path(key)) }

// SetVarp writes an n_var x n_var matrix.
func (a *AnnData) SetVarp(ctx context.Context, key string, m cas.Matrix) error {
	return a.set(ctx, collVarp, key, m)
}

// VarpKeys lists the varp keys.
func (a *AnnData) VarpKeys() ([]string, error) { return a.keys(collVarp) }

// DeleteVarp removes a varp matrix.
func (a *AnnData) DeleteVarp(ctx context.Context, key string) error {
	return a.remove(ctx, collVarp, key)
}

// Uns returns the unstructured element key.
func (a *AnnData) Uns(key string) (*Element, error) { return a.node(collUns.path(key)) }

// SetUns writes an unstructured element: a Go scalar, slice, cas value or
// *frame.Frame. Nested keys such as "qc/thresholds" create groups.
func (a *AnnData) SetUns(ctx context.Context, key string, v any) error {
	return a.set(ctx, collUns, key, v)
}

// UnsKeys lists the top-level uns keys.
func (a *AnnData) UnsKeys() ([]string, error) { return a.keys(collUns) }

// DeleteUns removes an uns element and anything below it.
func (a *AnnData) DeleteUns(ctx context.Context, key string) error {
	return a.remove(ctx, collUns, key)
}
