// Package testutil generates reproducible fixtures for tests and
// benchmarks: random count matrices, index names and row masks.
//
//	rng := testutil.NewRNG(seed)
//	x := rng.Counts(1000, 200, 0.05) // CSR float32, ~5% non-zero
//	mask := rng.Mask(1000, 0.1)
package testutil
