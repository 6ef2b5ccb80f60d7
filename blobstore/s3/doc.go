// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("atlas/pbmc"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Range reads map to ranged GETs, Create streams through the multipart
// uploader, and PutIfAbsent relies on S3 conditional writes so the
// container writer lock can live in the bucket itself.
package s3
