package shard

import (
	"strings"
	"sync/atomic"

	"github.com/krisalay/tiercache/types"
)

/*
This file defines how entries are held inside a shard of the in-memory tier.
- Reads should be very fast
- Reads should NOT require locks
- Writes are less frequent and can afford extra work

To achieve this, we use a technique called: "Copy-On-Write" (COW)
*/

// ShardStore is the interface used by a shard to store and retrieve cache entries.
type ShardStore interface {

	// Get retrieves an entry by key.
	Get(string) (*types.CacheEntry, bool)

	// Put inserts or replaces an entry.
	Put(string, *types.CacheEntry)

	// Delete removes entries and reports how many existed.
	Delete(...string) int

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(string) int

	// Range calls fn for every entry of the current snapshot until fn returns false.
	Range(func(*types.CacheEntry) bool)

	// Size returns how many entries are stored.
	Size() int64

	// Bytes returns the sum of the stored entry sizes.
	Bytes() int64
}

/*
cowStore is a Copy-On-Write implementation of ShardStore.

- Readers always see an immutable snapshot
- Writers create a NEW copy of the map
- The new map replaces the old one atomically

Writers must be serialized by the owning shard's mutex.
*/
type cowStore struct {
	data  atomic.Value // stores map[string]*types.CacheEntry
	size  atomic.Int64
	bytes atomic.Int64
}

func NewCOWStore() *cowStore {
	s := &cowStore{}
	s.data.Store(make(map[string]*types.CacheEntry))
	return s
}

func (s *cowStore) snapshot() map[string]*types.CacheEntry {
	return s.data.Load().(map[string]*types.CacheEntry)
}

func (s *cowStore) Get(key string) (*types.CacheEntry, bool) {
	ent, ok := s.snapshot()[key]
	return ent, ok
}

func (s *cowStore) Put(key string, ent *types.CacheEntry) {
	old := s.snapshot()

	n := make(map[string]*types.CacheEntry, len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[key] = ent

	s.swap(n)
}

func (s *cowStore) Delete(keys ...string) int {
	old := s.snapshot()
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := old[k]; ok {
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	n := make(map[string]*types.CacheEntry, len(old))
	for k, v := range old {
		if _, gone := drop[k]; !gone {
			n[k] = v
		}
	}
	s.swap(n)
	return len(drop)
}

func (s *cowStore) DeletePrefix(prefix string) int {
	old := s.snapshot()
	n := make(map[string]*types.CacheEntry, len(old))
	for k, v := range old {
		if !strings.HasPrefix(k, prefix) {
			n[k] = v
		}
	}
	removed := len(old) - len(n)
	if removed > 0 {
		s.swap(n)
	}
	return removed
}

func (s *cowStore) Range(fn func(*types.CacheEntry) bool) {
	for _, v := range s.snapshot() {
		if !fn(v) {
			return
		}
	}
}

func (s *cowStore) Size() int64 {
	return s.size.Load()
}

func (s *cowStore) Bytes() int64 {
	return s.bytes.Load()
}

// swap atomically publishes n and recomputes the counters.
func (s *cowStore) swap(n map[string]*types.CacheEntry) {
	var total int64
	for _, v := range n {
		total += v.Size
	}
	s.data.Store(n)
	s.size.Store(int64(len(n)))
	s.bytes.Store(total)
}
