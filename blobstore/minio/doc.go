// Package minio provides a BlobStore on the MinIO client for MinIO and other
// S3-compatible systems (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.Dial(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "atlas",
//	    Prefix:    "pbmc/",
//	})
//
// The store has no conditional put, so read-write containers on it must be
// opened with an external lock such as the DynamoDB lock.
package minio
