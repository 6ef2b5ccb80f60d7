package manifest

import "errors"

var (
	// ErrNotFound is returned when no CURRENT pointer exists.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when a manifest or the CURRENT pointer cannot
	// be decoded.
	ErrCorrupt = errors.New("manifest corrupt")
)
