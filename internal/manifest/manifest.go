package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/anndata/blobstore"
)

const (
	ManifestFilePrefix = "MANIFEST-"
	CurrentFileName    = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest describes the published state of a container.
type Manifest struct {
	Version   int
	ID        uint64
	CreatedAt time.Time
	Codec     string
	Nodes     []Node // sorted by Path
}

// Node describes one published node.
type Node struct {
	Path       string
	Kind       uint8
	DType      uint8
	Encoding   uint8
	Shape      []int64
	Attrs      []byte
	Components []Component
}

// Component is one chunk blob holding part of a node's data.
type Component struct {
	Role   string // e.g. "data", "indptr", "codes"
	Blob   string // blob name inside the store
	Size   int64  // blob size in bytes
	Length int64  // element count
}

// New creates an empty manifest.
func New(codec string) *Manifest {
	return &Manifest{
		Version:   CurrentVersion,
		CreatedAt: time.Now(),
		Codec:     codec,
	}
}

// Clone returns a deep copy of the node list header; nodes are shared
// read-only values and copied by value.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Nodes = append([]Node(nil), m.Nodes...)
	return &c
}

// Sort orders nodes by path.
func (m *Manifest) Sort() {
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].Path < m.Nodes[j].Path })
}

// Blobs returns the names of all referenced blobs.
func (m *Manifest) Blobs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range m.Nodes {
		for _, c := range n.Components {
			out[c.Blob] = struct{}{}
		}
	}
	return out
}

// FileName returns the blob name of manifest version id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s%06d.bin", ManifestFilePrefix, id)
}

// Store manages manifest blobs and the CURRENT pointer.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means current.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := FileName(id)
	if id == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
		if !strings.HasPrefix(name, ManifestFilePrefix) {
			return nil, fmt.Errorf("%w: CURRENT points to %q", ErrCorrupt, name)
		}
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s is missing", ErrCorrupt, name)
		}
		return nil, err
	}
	m, err := ReadBinary(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	return m, nil
}

// Save publishes m as the next version. m.ID is advanced in place.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()
	m.Sort()

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		m.ID--
		return err
	}

	name := FileName(m.ID)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		m.ID--
		return err
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		m.ID--
		_ = s.store.Delete(ctx, name)
		return err
	}
	return nil
}

// ListVersions returns the IDs of all stored manifest blobs in ascending order.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestFilePrefix)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, name := range names {
		var id uint64
		if _, err := fmt.Sscanf(name, ManifestFilePrefix+"%06d.bin", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteVersion deletes the manifest blob of the given version.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, FileName(id))
}
