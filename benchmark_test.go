package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/krisalay/tiercache/types"
)

func benchPayload(i int) types.APIPayload {
	return types.APIPayload{
		Response: json.RawMessage(fmt.Sprintf(`{"id":%d,"lamps":[1,2,3]}`, i)),
		Status:   200,
	}
}

//
// ================= SINGLE THREAD BENCH =================
//

func BenchmarkCacheGetHit(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)

	_ = c.CacheAPIResponse(ctx, "/key", nil, benchPayload(0))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.GetAPIResponse(ctx, "/key", nil)
	}
}

func BenchmarkCacheGetMiss(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.GetAPIResponse(ctx, fmt.Sprintf("/miss/%d", i), nil)
	}
}

//
// ================= PARALLEL BENCH =================
//

func BenchmarkCacheParallelGet(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)

	for i := 0; i < 1000; i++ {
		_ = c.CacheAPIResponse(ctx, fmt.Sprintf("/key/%d", i), nil, benchPayload(i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = c.GetAPIResponse(ctx, "/key/42", nil)
		}
	})
}

//
// ================= WRITE BENCH =================
//

func BenchmarkCachePut(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.CacheAPIResponse(ctx, fmt.Sprintf("/key/%d", i), nil, benchPayload(i))
	}
}

//
// ================= STRATEGY BENCH =================
//

func BenchmarkCacheFetchCacheFirst(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)
	fetch := func(context.Context) ([]byte, error) { return []byte(`"body{}"`), nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Fetch(ctx, "asset:main_css", types.ContentTypeStatic, fetch)
	}
}

//
// ================= HIGH CONCURRENCY TEST =================
//

func BenchmarkCacheHighConcurrency(b *testing.B) {
	ctx := context.Background()
	c, _ := newTestCache(b)

	urls := make([]string, 10000)
	for i := range urls {
		urls[i] = fmt.Sprintf("/key/%d", i)
		_ = c.CacheAPIResponse(ctx, urls[i], nil, benchPayload(i))
	}

	b.ResetTimer()

	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < b.N/100; j++ {
				_, _, _ = c.GetAPIResponse(ctx, urls[j%len(urls)], nil)
			}
		}()
	}
	wg.Wait()
}
