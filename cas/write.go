package cas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/internal/chunk"
	"github.com/hupe1980/anndata/internal/manifest"
)

// Batch stages writes and publishes them with one manifest commit.
//
// Component blobs are written when a node is added; the node becomes
// visible only on Commit. A crash or Abort before Commit leaves unreferenced
// blobs that Vacuum reclaims.
type Batch struct {
	s      *Store
	base   *manifest.Manifest
	nodes  map[string]manifest.Node
	staged []string
	done   bool
}

// Begin starts a batch. It waits while another batch is open.
func (s *Store) Begin(ctx context.Context) (*Batch, error) {
	if s.mode != ReadWrite {
		return nil, ErrReadOnly
	}
	s.writeMu.Lock()

	s.mu.RLock()
	closed, cur := s.closed, s.current
	s.mu.RUnlock()
	if closed {
		s.writeMu.Unlock()
		return nil, ErrClosed
	}

	nodes := make(map[string]manifest.Node, len(cur.Nodes))
	for _, n := range cur.Nodes {
		nodes[n.Path] = n
	}
	return &Batch{s: s, base: cur, nodes: nodes}, nil
}

// update runs fn in a batch and commits it, aborting on error.
func (s *Store) update(ctx context.Context, fn func(b *Batch) error) error {
	b, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		b.Abort(ctx)
		return err
	}
	return b.Commit(ctx)
}

// WriteArray writes v as a new node at p. v is a *Dense, *Sparse, Array,
// Scalar or *Categorical. For sparse values enc selects the stored layout
// (CSR or CSC); EncodingNone keeps the value's own layout.
func (s *Store) WriteArray(ctx context.Context, p string, v any, enc Encoding) error {
	return s.update(ctx, func(b *Batch) error { return b.WriteArray(ctx, p, v, enc) })
}

// WriteScalar writes a Go value as a scalar node.
func (s *Store) WriteScalar(ctx context.Context, p string, v any) error {
	return s.update(ctx, func(b *Batch) error { return b.WriteScalar(ctx, p, v) })
}

// CreateGroup creates an empty group.
func (s *Store) CreateGroup(ctx context.Context, p string, attrs codec.Attrs) error {
	return s.update(ctx, func(b *Batch) error { return b.CreateGroup(p, attrs) })
}

// SetAttrs replaces the attributes of a node.
func (s *Store) SetAttrs(ctx context.Context, p string, attrs codec.Attrs) error {
	return s.update(ctx, func(b *Batch) error { return b.SetAttrs(p, attrs) })
}

// Delete removes a node and all its descendants.
func (s *Store) Delete(ctx context.Context, p string) error {
	return s.update(ctx, func(b *Batch) error { return b.Delete(p) })
}

func (b *Batch) check() error {
	if b.done {
		return ErrClosed
	}
	return nil
}

// Exists reports whether p exists in the batch's view.
func (b *Batch) Exists(p string) bool {
	p = CleanPath(p)
	if p == "/" {
		return true
	}
	_, ok := b.nodes[p]
	return ok
}

// Node describes p as the batch sees it.
func (b *Batch) Node(p string) (NodeInfo, error) {
	p = CleanPath(p)
	n, ok := b.nodes[p]
	if !ok {
		if p == "/" {
			return NodeInfo{Path: "/", Kind: KindGroup, Attrs: codec.Attrs{}}, nil
		}
		return NodeInfo{}, fmt.Errorf("%w: node %s", ErrNotFound, p)
	}
	return b.s.info(&n)
}

// ensureParents creates missing ancestor groups of p.
func (b *Batch) ensureParents(p string) error {
	var missing []string
	for dir := parentOf(p); dir != "/"; dir = parentOf(dir) {
		n, ok := b.nodes[dir]
		if ok {
			if Kind(n.Kind) != KindGroup {
				return fmt.Errorf("%w: %s", ErrNotGroup, dir)
			}
			break
		}
		missing = append(missing, dir)
	}
	for _, dir := range missing {
		b.nodes[dir] = manifest.Node{Path: dir, Kind: uint8(KindGroup)}
	}
	return nil
}

func (b *Batch) add(n manifest.Node) error {
	if _, ok := b.nodes[n.Path]; ok || n.Path == "/" {
		return fmt.Errorf("%w: node %s", ErrDuplicateName, n.Path)
	}
	if err := b.ensureParents(n.Path); err != nil {
		return err
	}
	b.nodes[n.Path] = n
	return nil
}

// CreateGroup stages an empty group.
func (b *Batch) CreateGroup(p string, attrs codec.Attrs) error {
	if err := b.check(); err != nil {
		return err
	}
	p = CleanPath(p)
	raw, err := codec.EncodeAttrs(b.s.Codec(), attrs)
	if err != nil {
		return err
	}
	return b.add(manifest.Node{Path: p, Kind: uint8(KindGroup), Attrs: raw})
}

// SetAttrs replaces the attributes of p. Setting attributes on "/" creates
// the root node on first use.
func (b *Batch) SetAttrs(p string, attrs codec.Attrs) error {
	if err := b.check(); err != nil {
		return err
	}
	p = CleanPath(p)
	raw, err := codec.EncodeAttrs(b.s.Codec(), attrs)
	if err != nil {
		return err
	}
	n, ok := b.nodes[p]
	if !ok {
		if p != "/" {
			return fmt.Errorf("%w: node %s", ErrNotFound, p)
		}
		n = manifest.Node{Path: "/", Kind: uint8(KindGroup)}
	}
	n.Attrs = raw
	b.nodes[p] = n
	return nil
}

// Delete stages removal of p and its descendants.
func (b *Batch) Delete(p string) error {
	if err := b.check(); err != nil {
		return err
	}
	p = CleanPath(p)
	if _, ok := b.nodes[p]; !ok && p != "/" {
		return fmt.Errorf("%w: node %s", ErrNotFound, p)
	}
	for q := range b.nodes {
		if q == p || isBelow(q, p) {
			delete(b.nodes, q)
		}
	}
	return nil
}

// WriteScalar stages a scalar node.
func (b *Batch) WriteScalar(ctx context.Context, p string, v any) error {
	sc, err := NewScalar(v)
	if err != nil {
		return err
	}
	return b.WriteArray(ctx, p, sc, EncodingNone)
}

// WriteArray stages a node holding v. See Store.WriteArray.
func (b *Batch) WriteArray(ctx context.Context, p string, v any, enc Encoding) error {
	return b.WriteArrayAttrs(ctx, p, v, enc, nil)
}

// WriteArrayAttrs is WriteArray with node attributes.
func (b *Batch) WriteArrayAttrs(ctx context.Context, p string, v any, enc Encoding, attrs codec.Attrs) error {
	if err := b.check(); err != nil {
		return err
	}
	p = CleanPath(p)
	if b.Exists(p) {
		return fmt.Errorf("%w: node %s", ErrDuplicateName, p)
	}
	raw, err := codec.EncodeAttrs(b.s.Codec(), attrs)
	if err != nil {
		return err
	}

	n := manifest.Node{Path: p, Attrs: raw}
	switch x := v.(type) {
	case *Dense:
		if x.Data.Len() != x.Rows*x.Cols {
			return &LengthMismatchError{What: p, Want: int64(x.Rows * x.Cols), Got: int64(x.Data.Len())}
		}
		n.Kind, n.DType = uint8(KindDense), uint8(x.DType())
		n.Shape = []int64{int64(x.Rows), int64(x.Cols)}
		err = b.components(ctx, &n, roleData, x.Data)
	case *Sparse:
		sp, verr := prepareSparse(x, enc)
		if verr != nil {
			return fmt.Errorf("%s: %w", p, verr)
		}
		n.Kind, n.DType, n.Encoding = uint8(KindSparse), uint8(sp.DType()), uint8(sp.Format)
		n.Shape = []int64{int64(sp.Rows), int64(sp.Cols)}
		err = b.components(ctx, &n,
			roleIndptr, Int64s(sp.Indptr),
			roleIndices, Int64s(sp.Indices),
			roleData, sp.Data)
	case Scalar:
		if x.Data == nil || x.Data.Len() != 1 {
			return fmt.Errorf("%w: scalar %s needs exactly one element", ErrLengthMismatch, p)
		}
		n.Kind, n.DType = uint8(KindScalar), uint8(x.DType())
		err = b.components(ctx, &n, roleData, x.Data)
	case *Categorical:
		if verr := x.Validate(); verr != nil {
			return fmt.Errorf("%s: %w", p, verr)
		}
		n.Kind, n.DType = uint8(KindCategorical), uint8(String)
		n.Shape = []int64{int64(len(x.Codes))}
		err = b.components(ctx, &n,
			roleCategories, Strings(x.Categories),
			roleCodes, Int32s(x.Codes))
	case Array:
		n.Kind, n.DType = uint8(KindDense), uint8(x.DType())
		n.Shape = []int64{int64(x.Len())}
		err = b.components(ctx, &n, roleData, x)
	default:
		arr, aerr := FromValues(v)
		if aerr != nil {
			return aerr
		}
		return b.WriteArrayAttrs(ctx, p, arr, enc, attrs)
	}
	if err != nil {
		return err
	}
	return b.add(n)
}

func prepareSparse(x *Sparse, enc Encoding) (*Sparse, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	switch enc {
	case EncodingNone:
	case CSR:
		x = x.ToCSR()
	case CSC:
		x = x.ToCSC()
	default:
		return nil, fmt.Errorf("%w: encoding %s", ErrTypeMismatch, enc)
	}
	if !x.Sorted() {
		x = x.SortIndices()
	}
	return x, nil
}

// components writes role/array pairs as chunk blobs and records them on n.
func (b *Batch) components(ctx context.Context, n *manifest.Node, pairs ...any) error {
	for i := 0; i < len(pairs); i += 2 {
		role := pairs[i].(string)
		arr := pairs[i+1].(Array)
		c, err := b.writeComponent(ctx, role, arr)
		if err != nil {
			return err
		}
		n.Components = append(n.Components, c)
	}
	return nil
}

func (b *Batch) writeComponent(ctx context.Context, role string, a Array) (manifest.Component, error) {
	o := b.s.opts
	cb := chunk.NewBuilder(uint8(a.DType()), o.compression, o.chunkLen)
	var raw []byte
	for lo := 0; lo < a.Len(); lo += o.chunkLen {
		hi := min(lo+o.chunkLen, a.Len())
		raw = encodeElems(raw[:0], a.Slice(lo, hi))
		if err := cb.Add(raw, hi-lo); err != nil {
			return manifest.Component{}, err
		}
	}
	data := cb.Bytes()

	name := blobPrefix + uuid.NewString() + "." + role
	if err := o.rc.AcquireIO(ctx, len(data)); err != nil {
		return manifest.Component{}, err
	}
	b.staged = append(b.staged, name)
	if err := b.s.backing.Put(ctx, name, data); err != nil {
		return manifest.Component{}, translate(err)
	}
	return manifest.Component{Role: role, Blob: name, Size: int64(len(data)), Length: int64(a.Len())}, nil
}

// Commit publishes the staged state as a new manifest version. Blobs that
// are no longer referenced, including those a created container replaces,
// are deleted afterwards.
func (b *Batch) Commit(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	s := b.s
	defer b.finish()

	next := b.base.Clone()
	next.Nodes = next.Nodes[:0:0]
	for _, n := range b.nodes {
		next.Nodes = append(next.Nodes, n)
	}
	sort.Slice(next.Nodes, func(i, j int) bool { return next.Nodes[i].Path < next.Nodes[j].Path })

	if err := s.manifests.Save(ctx, next); err != nil {
		b.discard(ctx)
		return translate(err)
	}

	live := next.Blobs()
	var fresh []string
	for _, name := range b.staged {
		if _, ok := live[name]; ok {
			fresh = append(fresh, name)
		}
	}
	nodes := make(map[string]*manifest.Node, len(next.Nodes))
	for i := range next.Nodes {
		nodes[next.Nodes[i].Path] = &next.Nodes[i]
	}
	s.mu.Lock()
	s.current = next
	s.nodes = nodes
	garbage := s.superseded
	s.pending, s.superseded = false, nil
	if s.opts.inMemory && len(fresh) > 0 {
		if err := blobstore.Copy(ctx, s.reads, s.backing, fresh); err != nil {
			s.logger.Warn("in-memory copy failed, reading from backend", "error", err)
			s.reads = s.backing
		}
	}
	s.mu.Unlock()

	for name := range b.base.Blobs() {
		if _, ok := live[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	for _, name := range b.staged {
		if _, ok := live[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	s.dropBlobs(ctx, garbage)

	s.logger.Debug("committed manifest", "manifest", next.ID, "nodes", len(next.Nodes), "blobs", len(fresh))
	return nil
}

// Abort discards the batch and deletes its staged blobs.
func (b *Batch) Abort(ctx context.Context) {
	if b.done {
		return
	}
	b.discard(ctx)
	b.finish()
}

func (b *Batch) discard(ctx context.Context) {
	for _, name := range b.staged {
		if err := b.s.backing.Delete(ctx, name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			b.s.logger.Warn("failed to delete staged blob", "blob", name, "error", err)
		}
	}
	b.staged = nil
}

func (b *Batch) finish() {
	b.done = true
	b.s.writeMu.Unlock()
}

// dropBlobs closes cached readers and deletes blobs. Failures only leave
// garbage for Vacuum.
func (s *Store) dropBlobs(ctx context.Context, names []string) {
	s.readersMu.Lock()
	for _, name := range names {
		if r, ok := s.readers[name]; ok {
			_ = r.Close()
			delete(s.readers, name)
		}
	}
	s.readersMu.Unlock()

	for _, name := range names {
		if !strings.HasPrefix(name, blobPrefix) {
			continue
		}
		if err := s.backing.Delete(ctx, name); err != nil {
			s.logger.Warn("failed to delete unreferenced blob", "blob", name, "error", err)
		}
		s.mu.RLock()
		reads := s.reads
		s.mu.RUnlock()
		if reads != s.backing {
			_ = reads.Delete(ctx, name)
		}
	}
}
