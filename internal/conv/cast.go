package conv

import (
	"fmt"
	"math"
)

// IntToUint32 converts v, failing if it is negative or above MaxUint32.
func IntToUint32(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d is negative", v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d exceeds uint32", v)
	}
	return uint32(v), nil
}

// Uint32ToInt converts v, failing on platforms where int is narrower.
func Uint32ToInt(v uint32) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d exceeds int", v)
	}
	return int(v), nil
}
