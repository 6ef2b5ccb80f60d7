package anndata

import "github.com/hupe1980/anndata/cas"

// Error kinds. They are the cas sentinels, so errors.Is works across
// packages.
var (
	ErrNotFound           = cas.ErrNotFound
	ErrPermissionDenied   = cas.ErrPermissionDenied
	ErrCorruptFormat      = cas.ErrCorruptFormat
	ErrLengthMismatch     = cas.ErrLengthMismatch
	ErrOutOfRange         = cas.ErrOutOfRange
	ErrIncompatibleSchema = cas.ErrIncompatibleSchema
	ErrReadOnly           = cas.ErrReadOnly
	ErrAlreadyLocked      = cas.ErrAlreadyLocked
	ErrDuplicateName      = cas.ErrDuplicateName
	ErrNoSuchColumn       = cas.ErrNoSuchColumn
	ErrClosed             = cas.ErrClosed
	ErrAlreadyExists      = cas.ErrAlreadyExists
	ErrTypeMismatch       = cas.ErrTypeMismatch
)

// Typed detail errors.
type (
	LengthMismatchError = cas.LengthMismatchError
	OutOfRangeError     = cas.OutOfRangeError
	SchemaError         = cas.SchemaError
)

func lengthMismatch(what string, want, got int) error {
	return &LengthMismatchError{What: what, Want: int64(want), Got: int64(got)}
}
