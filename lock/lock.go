// Package lock provides writer locks for containers.
//
// A read-write container holds exactly one lock for its lifetime. Two
// providers exist: StoreLocker keeps a lock blob next to the manifest and
// relies on the store's conditional put, DynamoLocker keeps a lock item in a
// DynamoDB table for stores without one (MinIO).
package lock

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLocked is returned when another owner holds the lock.
	ErrLocked = errors.New("lock: already locked")

	// ErrNotHeld is returned when releasing a lock this owner no longer holds.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker acquires writer locks.
type Locker interface {
	// Acquire takes the lock or fails with ErrLocked. It never waits.
	Acquire(ctx context.Context) (Lease, error)
	// Break removes the lock regardless of owner. Use only when the owner
	// is known to be gone.
	Break(ctx context.Context) error
}

// Lease is a held lock.
type Lease interface {
	// Owner returns the unique token identifying this holder.
	Owner() string
	// Release gives the lock up.
	Release(ctx context.Context) error
}

// Info describes a lock holder. It is stored with the lock so operators can
// tell who owns a stale lock.
type Info struct {
	Owner      string    `json:"owner"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func newInfo() Info {
	host, _ := os.Hostname()
	return Info{
		Owner:      uuid.NewString(),
		Host:       host,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
}
