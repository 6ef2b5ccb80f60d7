// Package cas is the chunked array store underneath annotated containers.
//
// A container is a tree of nodes kept in a blobstore.BlobStore. Groups hold
// other nodes; array nodes (dense, sparse CSR/CSC, scalar, categorical) hold
// one or more components, each a chunk file of fixed-length compressed
// chunks. A binary manifest lists every node with its kind, element type,
// shape, attributes and component blobs; the CURRENT blob names the live
// manifest.
//
// Writes are staged in a Batch: component blobs are written first and a new
// manifest version is published on Commit. Readers therefore see either the
// old or the new state, never a partially written node. A crash before
// Commit only leaves unreferenced blobs, which Vacuum deletes.
//
// Reads are range based. ReadSlice on a CSR node reads indptr for the row
// range, then the index span of those rows, then only the data chunks
// holding entries inside the column range:
//
//	st, err := cas.Open(ctx, store, cas.ReadOnly)
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	m, err := st.ReadSlice(ctx, "/X", cas.Span(100, 200), cas.All())
//
// A read-write handle holds the container's writer lock until Close.
// Opening a second read-write handle fails with ErrAlreadyLocked;
// read-only handles never lock.
package cas
