package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/anndata/cas"
)

// RNG is a seeded random source safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Counts returns a rows x cols CSR matrix of float32 counts in [1, 100].
// Each entry is non-zero with probability density.
func (r *RNG) Counts(rows, cols int, density float64) *cas.Sparse {
	r.mu.Lock()
	defer r.mu.Unlock()
	indptr := make([]int64, 1, rows+1)
	var indices []int64
	var data cas.Float32s
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if r.rand.Float64() < density {
				indices = append(indices, int64(j))
				data = append(data, float32(1+r.rand.Intn(100)))
			}
		}
		indptr = append(indptr, int64(len(indices)))
	}
	if data == nil {
		data = cas.Float32s{}
	}
	return &cas.Sparse{Format: cas.CSR, Rows: rows, Cols: cols, Indptr: indptr, Indices: indices, Data: data}
}

// Dense returns a rows x cols matrix of float64 values in [0, 1).
func (r *RNG) Dense(rows, cols int) *cas.Dense {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make(cas.Float64s, rows*cols)
	for i := range data {
		data[i] = r.rand.Float64()
	}
	return &cas.Dense{Rows: rows, Cols: cols, Data: data}
}

// Choice returns n labels drawn from categories.
func (r *RNG) Choice(n int, categories ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, n)
	for i := range out {
		out[i] = categories[r.rand.Intn(len(categories))]
	}
	return out
}

// Mask returns a mask over [0, n) keeping each position with probability p.
func (r *RNG) Mask(n int, p float64) *roaring.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := roaring.New()
	for i := 0; i < n; i++ {
		if r.rand.Float64() < p {
			m.Add(uint32(i))
		}
	}
	return m
}

// Names returns prefix0, prefix1, ... prefix(n-1).
func Names(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

// Positions returns the set positions of mask as ints.
func Positions(mask *roaring.Bitmap) []int {
	out := make([]int, 0, mask.GetCardinality())
	it := mask.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
