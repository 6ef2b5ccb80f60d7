package cas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/codec"
	"github.com/hupe1980/anndata/internal/chunk"
	"github.com/hupe1980/anndata/internal/manifest"
	"github.com/hupe1980/anndata/lock"
	"github.com/hupe1980/anndata/resource"
)

// blobPrefix is the name prefix of component blobs.
const blobPrefix = "data/"

// Store is a handle to one container in a blob store.
//
// A Store is safe for concurrent readers. Writes go through a Batch; at most
// one batch is open at a time and other writers wait for it.
type Store struct {
	backing   blobstore.BlobStore // where writes go
	reads     blobstore.BlobStore // backing, or an in-memory copy
	manifests *manifest.Store
	mode      Mode
	opts      options
	codec     codec.Codec
	logger    *slog.Logger
	lease     lock.Lease

	writeMu sync.Mutex // held by an open Batch

	mu      sync.RWMutex
	current *manifest.Manifest
	nodes   map[string]*manifest.Node
	closed  bool
	// pending is set from Create until the first manifest is saved. Blobs
	// found at the destination by Create are deleted once it is.
	pending    bool
	superseded []string

	readersMu sync.Mutex
	readers   map[string]*chunk.Reader
}

// Open opens an existing container.
func Open(ctx context.Context, store blobstore.BlobStore, mode Mode, opts ...Option) (*Store, error) {
	o, err := applyOptions(store, opts)
	if err != nil {
		return nil, err
	}
	s := newStore(store, mode, o)
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	m, err := s.manifests.Load(ctx)
	if err == nil {
		err = s.install(ctx, m)
	}
	if err != nil {
		s.release(ctx)
		return nil, translate(err)
	}
	s.logger.Debug("opened container", "mode", mode.String(), "manifest", m.ID, "nodes", len(m.Nodes))
	return s, nil
}

// Create creates an empty container and returns a read-write handle.
//
// Nothing is published until the first Commit or Close: a writer that fails
// or crashes before then leaves the destination as it was, either missing or
// holding the container WithOverwrite would have replaced. Only the writer
// lock of a crashed create stays behind.
func Create(ctx context.Context, store blobstore.BlobStore, opts ...Option) (*Store, error) {
	o, err := applyOptions(store, opts)
	if err != nil {
		return nil, err
	}
	s := newStore(store, ReadWrite, o)
	if err := s.acquire(ctx); err != nil {
		if errors.Is(err, ErrAlreadyLocked) {
			if _, lerr := s.manifests.Load(ctx); errors.Is(lerr, manifest.ErrNotFound) {
				return nil, fmt.Errorf("%w: nothing committed yet, another create is running or one crashed", err)
			}
		}
		return nil, err
	}

	m := manifest.New(o.codec.Name())
	old, err := s.manifests.Load(ctx)
	switch {
	case err == nil:
		if !o.overwrite {
			s.release(ctx)
			return nil, ErrAlreadyExists
		}
		m.ID = old.ID
	case errors.Is(err, manifest.ErrNotFound):
	case errors.Is(err, manifest.ErrCorrupt) && o.overwrite:
	default:
		s.release(ctx)
		return nil, translate(err)
	}

	// Everything under blobPrefix belongs to the replaced container or to
	// an earlier create that never committed.
	stale, err := store.List(ctx, blobPrefix)
	if err != nil {
		s.release(ctx)
		return nil, translate(err)
	}
	if err := s.install(ctx, m); err != nil {
		s.release(ctx)
		return nil, translate(err)
	}
	s.pending, s.superseded = true, stale
	s.logger.Debug("created container", "overwrite", o.overwrite, "stale", len(stale))
	return s, nil
}

// BreakLock removes a stale writer lock left by a crashed writer.
func BreakLock(ctx context.Context, store blobstore.BlobStore, opts ...Option) error {
	o, err := applyOptions(store, opts)
	if err != nil {
		return err
	}
	return o.locker.Break(ctx)
}

func newStore(store blobstore.BlobStore, mode Mode, o options) *Store {
	return &Store{
		backing:   store,
		reads:     store,
		manifests: manifest.NewStore(store),
		mode:      mode,
		opts:      o,
		codec:     o.codec,
		logger:    o.logger,
		readers:   make(map[string]*chunk.Reader),
	}
}

func (s *Store) acquire(ctx context.Context) error {
	if s.mode != ReadWrite {
		return nil
	}
	lease, err := s.opts.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return ErrAlreadyLocked
		}
		return translate(err)
	}
	s.lease = lease
	return nil
}

func (s *Store) release(ctx context.Context) {
	s.closeReaders()
	if s.lease == nil {
		return
	}
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("failed to release writer lock", "error", err)
	}
	s.lease = nil
}

// translate maps backend errors onto the store's error kinds.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, manifest.ErrNotFound):
		return fmt.Errorf("%w: no container: %w", ErrNotFound, err)
	case errors.Is(err, manifest.ErrCorrupt), errors.Is(err, chunk.ErrCorrupted):
		if errors.Is(err, ErrCorruptFormat) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCorruptFormat, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return err
	}
}

// install verifies m and makes it the visible state.
func (s *Store) install(ctx context.Context, m *manifest.Manifest) error {
	c, ok := codec.ByName(m.Codec)
	if !ok {
		return corruptf("unknown attribute codec %q", m.Codec)
	}

	nodes := make(map[string]*manifest.Node, len(m.Nodes))
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if err := checkNode(n); err != nil {
			return err
		}
		if _, dup := nodes[n.Path]; dup {
			return corruptf("duplicate node %s", n.Path)
		}
		if _, err := codec.DecodeAttrs(c, n.Attrs); err != nil {
			return corruptf("%s: attributes: %w", n.Path, err)
		}
		nodes[n.Path] = n
	}
	for p := range nodes {
		if parent := parentOf(p); p != "/" && parent != "/" {
			if pn, ok := nodes[parent]; !ok || Kind(pn.Kind) != KindGroup {
				return corruptf("%s: parent is not a group", p)
			}
		}
	}

	reads := s.backing
	if s.opts.inMemory {
		mem := blobstore.NewMemoryStore()
		names := make([]string, 0)
		for b := range m.Blobs() {
			names = append(names, b)
		}
		if err := blobstore.Copy(ctx, mem, s.backing, names); err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return corruptf("component blob missing: %w", err)
			}
			return err
		}
		reads = mem
	}

	readers, err := s.verify(ctx, reads, m)
	if err != nil {
		for _, r := range readers {
			_ = r.Close()
		}
		return err
	}

	s.mu.Lock()
	s.current = m
	s.nodes = nodes
	s.reads = reads
	s.codec = c
	s.mu.Unlock()

	s.readersMu.Lock()
	old := s.readers
	s.readers = readers
	s.readersMu.Unlock()
	for _, r := range old {
		_ = r.Close()
	}
	return nil
}

// verify opens every component, checking header, chunk table, size, type
// and length against the manifest. Sparse indptr ends are checked against
// the entry count.
func (s *Store) verify(ctx context.Context, reads blobstore.BlobStore, m *manifest.Manifest) (map[string]*chunk.Reader, error) {
	type job struct {
		node *manifest.Node
		comp manifest.Component
	}
	var jobs []job
	for i := range m.Nodes {
		for _, c := range m.Nodes[i].Components {
			jobs = append(jobs, job{&m.Nodes[i], c})
		}
	}

	readers := make(map[string]*chunk.Reader, len(jobs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, j := range jobs {
		g.Go(func() error {
			r, err := openComponent(gctx, reads, j.node, j.comp, s.opts.rc)
			if err != nil {
				return err
			}
			mu.Lock()
			readers[j.comp.Blob] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return readers, err
	}

	for i := range m.Nodes {
		n := &m.Nodes[i]
		if Kind(n.Kind) != KindSparse {
			continue
		}
		ip, _ := componentOf(n, roleIndptr)
		ind, _ := componentOf(n, roleIndices)
		last, err := readElems(ctx, readers[ip.Blob], Int64, ip.Length-1, ip.Length)
		if err != nil {
			return readers, corruptf("%s: indptr: %w", n.Path, err)
		}
		if v := last.(Int64s)[0]; v != ind.Length {
			return readers, corruptf("%s: indptr ends at %d, %d entries stored", n.Path, v, ind.Length)
		}
	}
	return readers, nil
}

func openComponent(ctx context.Context, reads blobstore.BlobStore, n *manifest.Node, c manifest.Component, rc *resource.Controller) (*chunk.Reader, error) {
	blob, err := reads.Open(ctx, c.Blob)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, corruptf("%s: component %s blob %s missing", n.Path, c.Role, c.Blob)
		}
		return nil, translate(err)
	}
	if blob.Size() != c.Size {
		_ = blob.Close()
		return nil, corruptf("%s: blob %s has %d bytes, manifest says %d", n.Path, c.Blob, blob.Size(), c.Size)
	}
	r, err := chunk.Open(ctx, blob, rc)
	if err != nil {
		_ = blob.Close()
		return nil, corruptf("%s: blob %s: %w", n.Path, c.Blob, err)
	}
	if r.Len() != c.Length || DType(r.Header().DType) != componentDType(n, c.Role) {
		_ = r.Close()
		return nil, corruptf("%s: blob %s holds %d %s elements, manifest says %d %s",
			n.Path, c.Blob, r.Len(), DType(r.Header().DType), c.Length, componentDType(n, c.Role))
	}
	return r, nil
}

func (s *Store) closeReaders() {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	for name, r := range s.readers {
		_ = r.Close()
		delete(s.readers, name)
	}
}

// reader returns the open reader of a component blob.
func (s *Store) reader(ctx context.Context, n *manifest.Node, c manifest.Component) (*chunk.Reader, error) {
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	if r, ok := s.readers[c.Blob]; ok {
		return r, nil
	}
	s.mu.RLock()
	reads := s.reads
	s.mu.RUnlock()
	r, err := openComponent(ctx, reads, n, c, s.opts.rc)
	if err != nil {
		return nil, err
	}
	s.readers[c.Blob] = r
	return r, nil
}

// Close releases the writer lock and open blobs. A handle from Create that
// never committed publishes the empty container first. Closing twice returns
// ErrClosed.
func (s *Store) Close() error {
	return s.close(context.Background(), true)
}

// Abandon closes a handle from Create without publishing anything it has not
// committed yet: the destination keeps its previous state. On any other
// handle it behaves like Close.
func (s *Store) Abandon(ctx context.Context) error {
	return s.close(ctx, false)
}

func (s *Store) close(ctx context.Context, publish bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	pending := s.pending
	s.mu.Unlock()

	var err error
	if pending && publish {
		err = s.publish(ctx)
	}
	s.mu.Lock()
	s.pending, s.superseded = false, nil
	s.mu.Unlock()

	s.release(ctx)
	s.logger.Debug("closed container", "published", !pending || publish)
	return err
}

// publish saves the visible manifest of a created container that never
// committed, then drops the blobs it replaces.
func (s *Store) publish(ctx context.Context) error {
	s.mu.RLock()
	m := s.current.Clone()
	s.mu.RUnlock()
	if err := s.manifests.Save(ctx, m); err != nil {
		return translate(err)
	}
	s.mu.Lock()
	s.current = m
	stale := s.superseded
	s.pending, s.superseded = false, nil
	s.mu.Unlock()
	s.dropBlobs(ctx, stale)
	return nil
}

// Mode returns the mode the store was opened with.
func (s *Store) Mode() Mode { return s.mode }

// Backend returns the blob store holding the container.
func (s *Store) Backend() blobstore.BlobStore { return s.backing }

// Codec returns the attribute codec of the container.
func (s *Store) Codec() codec.Codec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec
}

// Version returns the ID of the visible manifest.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.ID
}

// Refresh reloads the latest committed manifest. Read-only handles use it to
// observe commits made by the writer.
func (s *Store) Refresh(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()
	if pending {
		return nil
	}
	m, err := s.manifests.Load(ctx)
	if err != nil {
		return translate(err)
	}
	if m.ID == s.Version() {
		return nil
	}
	return translate(s.install(ctx, m))
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// lookup returns the node at p.
func (s *Store) lookup(p string) (*manifest.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n, ok := s.nodes[CleanPath(p)]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, CleanPath(p))
	}
	return n, nil
}

func (s *Store) info(n *manifest.Node) (NodeInfo, error) {
	attrs, err := codec.DecodeAttrs(s.Codec(), n.Attrs)
	if err != nil {
		return NodeInfo{}, corruptf("%s: attributes: %w", n.Path, err)
	}
	return NodeInfo{
		Path:     n.Path,
		Kind:     Kind(n.Kind),
		DType:    DType(n.DType),
		Shape:    append([]int64(nil), n.Shape...),
		Encoding: Encoding(n.Encoding),
		Attrs:    attrs,
	}, nil
}

// Node describes the node at p. The root "/" is a group that exists even
// before attributes are set on it.
func (s *Store) Node(p string) (NodeInfo, error) {
	n, err := s.lookup(p)
	if err != nil {
		if CleanPath(p) == "/" && errors.Is(err, ErrNotFound) {
			return NodeInfo{Path: "/", Kind: KindGroup, Attrs: codec.Attrs{}}, nil
		}
		return NodeInfo{}, err
	}
	return s.info(n)
}

// Exists reports whether a node exists at p.
func (s *Store) Exists(p string) bool {
	_, err := s.Node(p)
	return err == nil
}

// Attrs returns the attributes of the node at p.
func (s *Store) Attrs(p string) (codec.Attrs, error) {
	info, err := s.Node(p)
	if err != nil {
		return nil, err
	}
	return info.Attrs, nil
}

// ListChildren returns the names of the direct children of a group in
// lexical order.
func (s *Store) ListChildren(group string) ([]string, error) {
	group = CleanPath(group)
	info, err := s.Node(group)
	if err != nil {
		return nil, err
	}
	if info.Kind != KindGroup {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, group)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []string
	for p := range s.nodes {
		if !isBelow(p, group) || parentOf(p) != group {
			continue
		}
		out = append(out, p[strings.LastIndexByte(p, '/')+1:])
	}
	sort.Strings(out)
	return out, nil
}

// Walk calls fn for every node in path order.
func (s *Store) Walk(fn func(NodeInfo) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	nodes := make([]*manifest.Node, 0, len(s.nodes))
	for p, n := range s.nodes {
		if p != "/" {
			nodes = append(nodes, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	for _, n := range nodes {
		info, err := s.info(n)
		if err != nil {
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// Vacuum deletes component blobs no manifest references and manifest
// versions older than the current one. It returns the number of deleted
// blobs.
func (s *Store) Vacuum(ctx context.Context) (int, error) {
	if s.mode != ReadWrite {
		return 0, ErrReadOnly
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	live := s.current.Blobs()
	currentID := s.current.ID
	if s.pending {
		// the replaced container is still the visible one
		for _, name := range s.superseded {
			live[name] = struct{}{}
		}
	}
	s.mu.RUnlock()

	names, err := s.backing.List(ctx, blobPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if err := s.backing.Delete(ctx, name); err != nil {
			return removed, err
		}
		removed++
	}

	versions, err := s.manifests.ListVersions(ctx)
	if err != nil {
		return removed, err
	}
	for _, id := range versions {
		if id >= currentID {
			continue
		}
		if err := s.manifests.DeleteVersion(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	s.logger.Info("vacuumed container", "removed", removed, "manifest", currentID)
	return removed, nil
}

// Destroy deletes the container: CURRENT first, so the container vanishes
// in one step, then every manifest version and component blob. The handle
// is closed afterwards.
func (s *Store) Destroy(ctx context.Context) error {
	if s.mode != ReadWrite {
		return ErrReadOnly
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.pending, s.superseded = false, nil
	s.mu.Unlock()
	defer s.release(context.Background())

	s.closeReaders()
	if err := s.backing.Delete(ctx, manifest.CurrentFileName); err != nil {
		return err
	}
	versions, err := s.manifests.ListVersions(ctx)
	if err != nil {
		return err
	}
	for _, id := range versions {
		if err := s.manifests.DeleteVersion(ctx, id); err != nil {
			return err
		}
	}
	names, err := s.backing.List(ctx, blobPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.backing.Delete(ctx, name); err != nil {
			return err
		}
	}
	s.logger.Debug("destroyed container", "blobs", len(names), "manifests", len(versions))
	return nil
}
