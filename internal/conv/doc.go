// Package conv converts between integer widths with bounds checks. It is
// used where sizes and counts cross a fixed-width boundary: chunk headers
// read from disk and row positions stored in 32-bit masks.
package conv
