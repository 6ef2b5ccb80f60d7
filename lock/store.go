package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/anndata/blobstore"
	"github.com/hupe1980/anndata/codec"
)

// DefaultName is the blob name used by StoreLocker.
const DefaultName = "LOCK"

// StoreLocker locks a container by creating a lock blob with PutIfAbsent.
type StoreLocker struct {
	store blobstore.BlobStore
	name  string
}

// NewStoreLocker creates a locker using the blob DefaultName in store.
func NewStoreLocker(store blobstore.BlobStore) *StoreLocker {
	return &StoreLocker{store: store, name: DefaultName}
}

// Acquire implements Locker.
func (l *StoreLocker) Acquire(ctx context.Context) (Lease, error) {
	cp, ok := l.store.(blobstore.ConditionalPutter)
	if !ok {
		return nil, fmt.Errorf("lock: store has no conditional put: %w", blobstore.ErrUnsupported)
	}

	info := newInfo()
	data, err := codec.Default.Marshal(info)
	if err != nil {
		return nil, err
	}
	if err := cp.PutIfAbsent(ctx, l.name, data); err != nil {
		if errors.Is(err, blobstore.ErrExists) {
			return nil, ErrLocked
		}
		if errors.Is(err, blobstore.ErrUnsupported) {
			return nil, fmt.Errorf("lock: store has no conditional put: %w", err)
		}
		return nil, fmt.Errorf("lock: acquire: %w", err)
	}
	return &storeLease{locker: l, info: info}, nil
}

// Holder returns the current holder of the lock.
func (l *StoreLocker) Holder(ctx context.Context) (Info, error) {
	var info Info
	data, err := blobstore.ReadAll(ctx, l.store, l.name)
	if err != nil {
		return info, err
	}
	err = codec.Default.Unmarshal(data, &info)
	return info, err
}

// Break implements Locker.
func (l *StoreLocker) Break(ctx context.Context) error {
	return l.store.Delete(ctx, l.name)
}

type storeLease struct {
	locker *StoreLocker
	info   Info
}

func (s *storeLease) Owner() string { return s.info.Owner }

func (s *storeLease) Release(ctx context.Context) error {
	holder, err := s.locker.Holder(ctx)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return ErrNotHeld
		}
		return err
	}
	if holder.Owner != s.info.Owner {
		return ErrNotHeld
	}
	return s.locker.store.Delete(ctx, s.locker.name)
}
