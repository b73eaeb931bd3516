package storage

import (
	"context"

	"github.com/krisalay/tiercache/shard"
	"github.com/krisalay/tiercache/types"
)

// DefaultShards is the shard count of a memory backend created with n <= 0.
const DefaultShards = 16

/*
MemoryBackend keeps entries in process memory, spread over shards.

Reads are lock-free (copy-on-write snapshots); writers lock only the shard
that owns the key. Entries are cloned on the way in and out so callers can
never mutate what is stored.
*/
type MemoryBackend struct {
	shards *shard.Set
}

// NewMemoryBackend creates a memory backend with n shards.
func NewMemoryBackend(n int) *MemoryBackend {
	if n <= 0 {
		n = DefaultShards
	}
	return &MemoryBackend{shards: shard.NewSet(n)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*types.CacheEntry, error) {
	ent, ok := b.shards.For(key).Store.Get(key)
	if !ok {
		return nil, nil
	}
	return ent.Clone(), nil
}

func (b *MemoryBackend) Put(_ context.Context, entries ...*types.CacheEntry) error {
	for _, ent := range entries {
		s := b.shards.For(ent.Key)
		s.Mu.Lock()
		s.Store.Put(ent.Key, ent.Clone())
		s.Mu.Unlock()
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := b.shards.For(key)
		s.Mu.Lock()
		s.Store.Delete(key)
		s.Mu.Unlock()
	}
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for _, s := range b.shards.All() {
		s.Mu.Lock()
		s.Store.DeletePrefix(prefix)
		s.Mu.Unlock()
	}
	return nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	return b.DeletePrefix(ctx, "")
}

func (b *MemoryBackend) List(_ context.Context) ([]types.EntryInfo, error) {
	var out []types.EntryInfo
	for _, s := range b.shards.All() {
		s.Store.Range(func(ent *types.CacheEntry) bool {
			out = append(out, ent.Info())
			return true
		})
	}
	return out, nil
}

func (b *MemoryBackend) UsedBytes(_ context.Context) (int64, error) {
	var total int64
	for _, s := range b.shards.All() {
		total += s.Store.Bytes()
	}
	return total, nil
}

// Len returns how many entries are stored.
func (b *MemoryBackend) Len() int64 {
	var n int64
	for _, s := range b.shards.All() {
		n += s.Store.Size()
	}
	return n
}

func (b *MemoryBackend) Close() error {
	return nil
}
