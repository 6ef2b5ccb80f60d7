// Package cache provides LRU caching for blob blocks.
//
// The caching blob store keeps recently read blocks of remote chunk files in
// memory so that repeated range reads over the same rows do not go back to
// object storage. LRUBlockCache is a single-lock LRU; ShardedLRUBlockCache
// hashes keys over independent shards for parallel readers. Both can account
// their bytes against a resource.Controller memory limit.
package cache
