package hash

import (
	"hash"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC-32C (Castagnoli) checksum of data. Chunk headers,
// chunk tables, compressed chunks and manifests are all sealed with it.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// NewCRC32C returns a streaming CRC-32C, for data written in pieces.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}
