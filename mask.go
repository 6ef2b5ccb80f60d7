package anndata

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/anndata/internal/conv"
)

// MaskFromBools returns a mask of the positions where keep is true.
func MaskFromBools(keep []bool) *roaring.Bitmap {
	m := roaring.New()
	for i, k := range keep {
		if k {
			m.Add(uint32(i))
		}
	}
	return m
}

// MaskFromIndices returns a mask of the given positions. Order and
// duplicates do not matter; positions outside [0, 2^32) are rejected.
func MaskFromIndices(idx ...int) (*roaring.Bitmap, error) {
	m := roaring.New()
	for _, i := range idx {
		u, err := conv.IntToUint32(i)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrOutOfRange, i, err)
		}
		m.Add(u)
	}
	return m, nil
}

// MaskRange returns a mask of the positions [lo, hi).
func MaskRange(lo, hi int) *roaring.Bitmap {
	m := roaring.New()
	if hi > lo && lo >= 0 {
		m.AddRange(uint64(lo), uint64(hi))
	}
	return m
}

// maskAll returns the mask of every position below n.
func maskAll(n int) *roaring.Bitmap { return MaskRange(0, n) }
