package shard_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/krisalay/tiercache/shard"
	"github.com/krisalay/tiercache/types"
)

func entry(key string, size int) *types.CacheEntry {
	return &types.CacheEntry{Key: key, Data: make([]byte, size), Size: int64(size)}
}

func TestCOWStoreAccounting(t *testing.T) {
	s := shard.NewCOWStore()
	s.Put("api:a", entry("api:a", 10))
	s.Put("api:b", entry("api:b", 20))
	s.Put("asset:c", entry("asset:c", 5))

	assert.Equal(t, int64(3), s.Size())
	assert.Equal(t, int64(35), s.Bytes())

	s.Put("api:a", entry("api:a", 1))
	assert.Equal(t, int64(26), s.Bytes())

	assert.Equal(t, 2, s.DeletePrefix("api:"))
	assert.Equal(t, int64(1), s.Size())
	assert.Equal(t, int64(5), s.Bytes())

	assert.Equal(t, 0, s.Delete("missing"))
	assert.Equal(t, 1, s.Delete("asset:c"))
	assert.Equal(t, int64(0), s.Size())
}

func TestSelectorIsStable(t *testing.T) {
	set := shard.NewSet(4)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("content:%d", i)
		assert.Same(t, set.For(k), set.For(k))
	}
	assert.Len(t, set.All(), 4)
	assert.Len(t, shard.NewSet(0).All(), 1)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	sh := shard.NewShard()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sh.Mu.Lock()
			defer sh.Mu.Unlock()
			k := fmt.Sprintf("k%d", i)
			sh.Store.Put(k, entry(k, 1))
		}(i)
		go func() {
			defer wg.Done()
			sh.Store.Range(func(*types.CacheEntry) bool { return true })
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8), sh.Store.Size())
}
