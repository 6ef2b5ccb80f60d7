// Package mmap provides read-only memory-mapped file access.
//
// Local chunk files are mapped on open so that range reads of a few chunks
// copy straight out of the page cache:
//
//	m, err := mmap.Open("data/9f1c.data")
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := make([]byte, 64)
//	_, err = m.ReadAt(buf, 0)
//
// On Unix the mapping uses mmap(2); on Windows CreateFileMapping and
// MapViewOfFile. Callers must not touch Bytes() after Close returns.
package mmap
