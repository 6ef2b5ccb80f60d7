// Package blobstore provides the storage abstraction under containers.
//
// A container is a set of immutable named blobs: chunk files, manifests and
// a CURRENT pointer. BlobStore reads and writes those blobs; implementations
// must be safe for concurrent use and Put must be atomic.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, mmap reads, temp-file plus rename writes
//   - MemoryStore: in-memory map, used for in-memory containers and tests
//   - CachingStore: block cache in front of any store
//   - badgerstore.Store: embedded Badger database
//   - s3.Store and minio.Store: object storage with range reads
//
// Stores that implement ConditionalPutter can host the container writer
// lock directly; others need an external lock (see package lock).
package blobstore
