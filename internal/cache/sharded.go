package cache

import (
	"context"
	"hash/maphash"

	"github.com/hupe1980/anndata/resource"
)

const numShards = 32

// ShardedLRUBlockCache spreads entries across independent LRU shards to
// reduce lock contention when a dataset reads many containers in parallel.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

// NewShardedLRUBlockCache divides capacity evenly across shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	shardCapacity := max(capacity/numShards, 1)
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRUBlockCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key Key) *LRUBlockCache {
	var h maphash.Hash
	h.SetSeed(s.seed)
	_, _ = h.WriteString(key.Blob)
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key.Block >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return s.shards[h.Sum64()%numShards]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(ctx context.Context, key Key, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes matching entries from every shard.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key Key) bool) {
	for _, sh := range s.shards {
		sh.Invalidate(predicate)
	}
}

// Stats returns aggregated hit and miss counters.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, sh := range s.shards {
		total += sh.Size()
	}
	return total
}
