package shard

import "hash/fnv"

/*
This file decides HOW a cache key is assigned to a shard.
If every key went to the same shard, that shard's write lock would become a
bottleneck.
*/

// Selector decides which shard should handle a given key.
type Selector interface {
	Select(string, []*Shard) *Shard
}

// HashSelector picks a shard by FNV-1a hash of the key.
type HashSelector struct{}

// hash converts a string key into a number. FNV is a fast, non-cryptographic hash.
func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Select chooses the shard for a given key.
func (p *HashSelector) Select(key string, shards []*Shard) *Shard {
	idx := int(hash(key) % uint32(len(shards)))
	return shards[idx]
}
