package anndata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/anndata/cas"
	"github.com/hupe1980/anndata/frame"
)

type member struct {
	key      string
	ad       *AnnData
	varNames []string
}

// snapshot is an immutable view of a dataset's members and row index.
type snapshot struct {
	members []member
	offsets []int // len(members)+1 cumulative row starts
	join    *varJoin
}

func (s *snapshot) rows() int { return s.offsets[len(s.offsets)-1] }

// locate returns the member holding logical row r.
func (s *snapshot) locate(r int) int {
	return sort.SearchInts(s.offsets[1:], r+1)
}

// AnnDataSet is a virtual vertical concatenation of containers. Rows are
// numbered across members in order; the var axis follows the join policy.
// Nothing is copied: reads are routed to the member containers.
//
// Readers see a consistent snapshot of the member list. AddContainer and
// RemoveContainer invalidate it; the next read rebuilds it.
type AnnDataSet struct {
	mu      sync.Mutex
	members []member
	owned   bool
	closed  bool

	snap atomic.Pointer[snapshot]

	opts    options
	logger  *Logger
	metrics MetricsCollector
}

// NewDataSet builds a dataset over containers. The containers stay owned by
// the caller. Keys default to "0", "1", ...; with JoinInner all var indices
// must be equal, else ErrIncompatibleSchema.
func NewDataSet(ctx context.Context, containers []*AnnData, opts ...Option) (*AnnDataSet, error) {
	o := applyOptions(opts)
	keys := o.keys
	if keys == nil {
		keys = make([]string, len(containers))
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
	}
	if len(keys) != len(containers) {
		return nil, lengthMismatch("dataset keys", len(containers), len(keys))
	}

	ds := &AnnDataSet{opts: o, logger: o.logger, metrics: o.metricsCollector}
	for i, ad := range containers {
		m, err := newMember(ctx, keys[i], ad)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(ds.members, func(x member) bool { return x.key == m.key }) {
			return nil, fmt.Errorf("%w: dataset key %q", ErrDuplicateName, m.key)
		}
		ds.members = append(ds.members, m)
	}
	if _, err := ds.build(ds.members); err != nil {
		return nil, err
	}
	return ds, nil
}

// ReadDataset opens each local path read-only and builds a dataset that owns
// the handles; Close closes them.
func ReadDataset(ctx context.Context, paths []string, opts ...Option) (*AnnDataSet, error) {
	containers := make([]*AnnData, 0, len(paths))
	closeAll := func() {
		for _, ad := range containers {
			_ = ad.Close()
		}
	}
	for _, p := range paths {
		ad, err := Read(ctx, p, opts...)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		containers = append(containers, ad)
	}
	ds, err := NewDataSet(ctx, containers, opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	ds.owned = true
	return ds, nil
}

func newMember(ctx context.Context, key string, ad *AnnData) (member, error) {
	if ad == nil {
		return member{}, fmt.Errorf("%w: nil container %q", ErrNotFound, key)
	}
	tbl, err := ad.Var()
	if err != nil {
		return member{}, fmt.Errorf("container %q: %w", key, err)
	}
	names, err := tbl.Index(ctx)
	if err != nil {
		return member{}, fmt.Errorf("container %q: %w", key, err)
	}
	return member{key: key, ad: ad, varNames: names}, nil
}

// build derives a snapshot from members. It does no I/O.
func (d *AnnDataSet) build(members []member) (*snapshot, error) {
	keys := make([]string, len(members))
	vars := make([][]string, len(members))
	offsets := make([]int, 1, len(members)+1)
	for i, m := range members {
		keys[i], vars[i] = m.key, m.varNames
		offsets = append(offsets, offsets[i]+m.ad.NObs())
	}
	join, err := joinVars(d.opts.join, keys, vars)
	if err != nil {
		return nil, err
	}
	return &snapshot{members: slices.Clone(members), offsets: offsets, join: join}, nil
}

// snapshot returns the current view, rebuilding it after a structural
// change.
func (d *AnnDataSet) snapshot() (*snapshot, error) {
	if s := d.snap.Load(); s != nil {
		return s, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if s := d.snap.Load(); s != nil {
		return s, nil
	}
	s, err := d.build(d.members)
	if err != nil {
		return nil, err
	}
	d.snap.Store(s)
	d.logger.LogIndexRebuild(context.Background(), len(s.members), s.rows(), len(s.join.names))
	return s, nil
}

// AddContainer appends a container under key. Under JoinInner its var
// index must match the dataset's.
func (d *AnnDataSet) AddContainer(ctx context.Context, key string, ad *AnnData) error {
	m, err := newMember(ctx, key, ad)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if slices.ContainsFunc(d.members, func(x member) bool { return x.key == key }) {
		return fmt.Errorf("%w: dataset key %q", ErrDuplicateName, key)
	}
	members := append(slices.Clone(d.members), m)
	if _, err := d.build(members); err != nil {
		return err
	}
	d.members = members
	d.snap.Store(nil)
	return nil
}

// RemoveContainer drops the container registered under key. The container
// itself is not closed.
func (d *AnnDataSet) RemoveContainer(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	i := slices.IndexFunc(d.members, func(x member) bool { return x.key == key })
	if i < 0 {
		return fmt.Errorf("%w: dataset key %q", ErrNotFound, key)
	}
	d.members = slices.Delete(slices.Clone(d.members), i, i+1)
	d.snap.Store(nil)
	return nil
}

// Keys returns the member keys in row order.
func (d *AnnDataSet) Keys() ([]string, error) {
	s, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(s.members))
	for i, m := range s.members {
		keys[i] = m.key
	}
	return keys, nil
}

// RowCount returns the total number of rows.
func (d *AnnDataSet) RowCount() (int, error) {
	s, err := d.snapshot()
	if err != nil {
		return 0, err
	}
	return s.rows(), nil
}

// ColCount returns the number of logical var columns.
func (d *AnnDataSet) ColCount() (int, error) {
	s, err := d.snapshot()
	if err != nil {
		return 0, err
	}
	return len(s.join.names), nil
}

// VarNames returns the logical var index.
func (d *AnnDataSet) VarNames() ([]string, error) {
	s, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.join.names), nil
}

// Locate maps a logical row to the key of its container and the row within
// it.
func (d *AnnDataSet) Locate(row int) (string, int, error) {
	s, err := d.snapshot()
	if err != nil {
		return "", 0, err
	}
	if row < 0 || row >= s.rows() {
		return "", 0, &OutOfRangeError{Path: "dataset", Lo: int64(row), Hi: int64(row) + 1, Len: int64(s.rows())}
	}
	i := s.locate(row)
	return s.members[i].key, row - s.offsets[i], nil
}

// GetRows reads logical rows [lo, hi) of X in the logical var space.
func (d *AnnDataSet) GetRows(ctx context.Context, lo, hi int) (cas.Matrix, error) {
	return d.readRows(ctx, "/X", lo, hi)
}

// GetLayerRows reads logical rows [lo, hi) of the named layer.
func (d *AnnDataSet) GetLayerRows(ctx context.Context, layer string, lo, hi int) (cas.Matrix, error) {
	return d.readRows(ctx, collLayers.path(layer), lo, hi)
}

// readRows fans out one read per overlapping member, bounded by the
// resource controller, and stacks the parts in logical order.
func (d *AnnDataSet) readRows(ctx context.Context, p string, lo, hi int) (_ cas.Matrix, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordSlice(hi-lo, time.Since(start), err) }()

	s, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	if lo < 0 || hi < lo || hi > s.rows() {
		return nil, &OutOfRangeError{Path: "dataset", Lo: int64(lo), Hi: int64(hi), Len: int64(s.rows())}
	}
	if len(s.members) == 0 {
		return nil, fmt.Errorf("%w: empty dataset", ErrOutOfRange)
	}

	type part struct {
		idx    int
		lo, hi int
	}
	var parts []part
	if lo == hi {
		parts = append(parts, part{0, 0, 0})
	} else {
		for i := s.locate(lo); i <= s.locate(hi-1); i++ {
			a, b := max(lo, s.offsets[i]), min(hi, s.offsets[i+1])
			if a < b {
				parts = append(parts, part{i, a - s.offsets[i], b - s.offsets[i]})
			}
		}
	}

	out := make([]cas.Matrix, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	if n := d.opts.rc.MaxWorkers(); n > 0 {
		g.SetLimit(n)
	}
	for k, pt := range parts {
		g.Go(func() error {
			if err := d.opts.rc.AcquireWorker(gctx); err != nil {
				return err
			}
			defer d.opts.rc.ReleaseWorker()

			m := s.members[pt.idx]
			mat, err := m.ad.Store().ReadSlice(gctx, p, cas.Span(pt.lo, pt.hi), cas.All())
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return fmt.Errorf("container %q: %w", m.key, err)
				}
				return fmt.Errorf("container %q: %s: %w", m.key, p, err)
			}
			out[k] = s.join.project(pt.idx, mat)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stack(out)
}

// Obs concatenates the members' obs tables. A categorical label column
// records each row's container key unless disabled with
// WithLabelColumn("").
func (d *AnnDataSet) Obs(ctx context.Context) (*frame.Frame, error) {
	s, err := d.snapshot()
	if err != nil {
		return nil, err
	}
	frames := make([]*frame.Frame, len(s.members))
	keys := make([]string, len(s.members))
	for i, m := range s.members {
		tbl, err := m.ad.Obs()
		if err != nil {
			return nil, fmt.Errorf("container %q: %w", m.key, err)
		}
		if frames[i], err = tbl.Load(ctx); err != nil {
			return nil, fmt.Errorf("container %q: %w", m.key, err)
		}
		keys[i] = m.key
	}
	return frame.Concat(frames, frame.ConcatOptions{
		Keys:           keys,
		Label:          d.opts.label,
		IndexSeparator: d.opts.indexSep,
	})
}

// Close releases the dataset. Containers opened by ReadDataset are closed;
// others are left to their owner.
func (d *AnnDataSet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.snap.Store(nil)
	var errs []error
	if d.owned {
		for _, m := range d.members {
			errs = append(errs, m.ad.Close())
		}
	}
	return errors.Join(errs...)
}
