package cas

import (
	"errors"
	"fmt"

	"github.com/hupe1980/anndata/lock"
)

var (
	// ErrNotFound is returned when a container or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the backend refuses access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCorruptFormat is returned when persisted metadata or data is
	// unreadable or inconsistent.
	ErrCorruptFormat = errors.New("corrupt format")

	// ErrLengthMismatch is returned when an axis length does not match.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrOutOfRange is returned when a slice bound exceeds a node's shape.
	ErrOutOfRange = errors.New("out of range")

	// ErrIncompatibleSchema is returned when containers cannot be joined.
	ErrIncompatibleSchema = errors.New("incompatible schema")

	// ErrReadOnly is returned when writing through a read-only handle.
	ErrReadOnly = errors.New("read-only violation")

	// ErrAlreadyLocked is returned when another writer holds the container.
	ErrAlreadyLocked = lock.ErrLocked

	// ErrDuplicateName is returned when a node or column already exists.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNoSuchColumn is returned when a table has no column of that name.
	ErrNoSuchColumn = errors.New("no such column")

	// ErrClosed is returned when using a closed handle.
	ErrClosed = errors.New("closed")

	// ErrAlreadyExists is returned by Create when a container exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotGroup is returned when a path component is not a group.
	ErrNotGroup = errors.New("not a group")

	// ErrTypeMismatch is returned when an operation meets an unexpected
	// node kind or element type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// LengthMismatchError reports an axis length violation.
type LengthMismatchError struct {
	What string
	Want int64
	Got  int64
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: %s: want %d, got %d", e.What, e.Want, e.Got)
}

func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

// OutOfRangeError reports a slice bound outside a node's shape.
type OutOfRangeError struct {
	Path string
	Axis int
	Lo   int64
	Hi   int64
	Len  int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %s axis %d: [%d, %d) outside [0, %d)", e.Path, e.Axis, e.Lo, e.Hi, e.Len)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// SchemaError reports why containers cannot be joined.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "incompatible schema: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return ErrIncompatibleSchema }

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorruptFormat}, args...)...)
}
