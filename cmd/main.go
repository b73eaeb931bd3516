package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	cache "github.com/krisalay/tiercache"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/keys"
	"github.com/krisalay/tiercache/types"
)

// ================= ORIGIN =================

// origin stands in for the remote backend.
type origin struct {
	calls   atomic.Int32
	offline atomic.Bool
	version atomic.Int32
}

func (o *origin) fetch(path string) types.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		o.calls.Add(1)
		if o.offline.Load() {
			fmt.Println("ORIGIN → unreachable:", path)
			return nil, errors.New("origin unreachable")
		}
		v := o.version.Load()
		fmt.Printf("ORIGIN → fetch %s (v%d)\n", path, v)
		return json.Marshal(map[string]any{"path": path, "version": v})
	}
}

// ================= MAIN =================

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	fmt.Println("\n==================== SYSTEM BOOT ====================")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if os.Getenv(config.EnvPrefix+"BACKEND") == "" {
		cfg.Backend = config.BackendMemory
	}
	cfg.QuotaBytes = 4 * 1024
	cfg.LogLevel = "warn"

	fmt.Println("BACKEND         :", cfg.Backend)
	fmt.Println("MIRROR MODE     :", cfg.MirrorMode)
	fmt.Println("QUOTA           :", cfg.QuotaBytes, "bytes")
	fmt.Println("CLOCK           : fake (advanced by hand)")

	clock := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()
	c, err := cache.New(ctx, cache.WithConfig(cfg), cache.WithClock(clock), cache.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	status, err := c.Initialize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("STATUS          : %+v\n", status)

	src := &origin{}

	// ====================================================
	fmt.Println("\n==================== 1) CACHE CONTENT ====================")
	err = c.CacheContent(ctx, "devotional-1", map[string]any{"lang": "en"}, types.ContentPayload{
		Content:      json.RawMessage(`{"title":"Day 1","body":"Light a lamp"}`),
		Translations: map[string]json.RawMessage{"hi": json.RawMessage(`{"title":"दिन 1"}`)},
	})
	if err != nil {
		return err
	}
	doc, ok, err := c.GetContent(ctx, "devotional-1", map[string]any{"lang": "en"})
	if err != nil {
		return err
	}
	fmt.Println("CACHE  → GET content:devotional-1 found =", ok)
	if ok {
		fmt.Println("CACHE  → content =", string(doc.Content))
	}

	// ====================================================
	fmt.Println("\n==================== 2) CACHE-FIRST ====================")
	for range 2 {
		v, err := c.Fetch(ctx, "asset:main_css", types.ContentTypeStatic, src.fetch("/main.css"))
		if err != nil {
			return err
		}
		fmt.Println("CACHE  → FETCH asset:main_css =", string(v))
	}
	fmt.Println("ORIGIN → calls so far:", src.calls.Load())

	// ====================================================
	fmt.Println("\n==================== 3) NETWORK-FIRST FALLBACK ====================")
	if _, err := c.Fetch(ctx, "api:user_1", types.ContentTypeUser, src.fetch("/user/1")); err != nil {
		return err
	}
	src.offline.Store(true)
	v, err := c.Fetch(ctx, "api:user_1", types.ContentTypeUser, src.fetch("/user/1"))
	fmt.Println("CACHE  → FETCH api:user_1 while offline =", string(v), "err =", err)
	src.offline.Store(false)

	// ====================================================
	fmt.Println("\n==================== 4) STALE-WHILE-REVALIDATE ====================")
	if _, err := c.Fetch(ctx, "content:today", types.ContentTypeContent, src.fetch("/today")); err != nil {
		return err
	}
	src.version.Store(2)
	clock.Advance(20 * time.Hour)
	stale, _ := c.IsStale(ctx, "content:today")
	fmt.Println("CACHE  → content:today stale after 20h =", stale)

	v, err = c.Fetch(ctx, "content:today", types.ContentTypeContent, src.fetch("/today"))
	if err != nil {
		return err
	}
	fmt.Println("CACHE  → served immediately =", string(v))
	c.Revalidator().Wait()
	v, err = c.Fetch(ctx, "content:today", types.ContentTypeContent, src.fetch("/today"))
	if err != nil {
		return err
	}
	fmt.Println("CACHE  → after revalidation =", string(v))

	// ====================================================
	fmt.Println("\n==================== 5) SINGLEFLIGHT ====================")
	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			val, err := cache.FetchJSON[map[string]any](ctx, c, "api:quiz_categories",
				types.ContentTypeQuiz, src.fetch("/quiz/categories"))
			fmt.Printf("GOROUTINE-%d → FETCH api:quiz_categories = %v err = %v\n", id, val, err)
		}(i)
	}
	wg.Wait()

	// ====================================================
	fmt.Println("\n==================== 6) TTL EXPIRATION ====================")
	if err := c.CacheAPIResponse(ctx, "/festivals", nil, types.APIPayload{
		Response: json.RawMessage(`["Diwali","Holi"]`), Status: 200,
	}); err != nil {
		return err
	}
	clock.Advance(6 * time.Minute)
	_, ok, err = c.GetAPIResponse(ctx, "/festivals", nil)
	if err != nil {
		return err
	}
	fmt.Println("CACHE  → GET api:festivals after 6m found =", ok)

	// ====================================================
	fmt.Println("\n==================== 7) QUOTA PRESSURE ====================")
	for i := 0; i < 40; i++ {
		prio := types.PriorityLow
		if i%2 == 1 {
			prio = types.PriorityHigh
		}
		err := c.CacheAPIResponse(ctx, fmt.Sprintf("/lamps/%d", i), nil, types.APIPayload{
			Response: json.RawMessage(fmt.Sprintf(`{"lamp":%d,"lit":true}`, i)), Status: 200,
		}, types.StorageOptions{Priority: prio})
		if errors.Is(err, types.ErrQuotaExceeded) {
			fmt.Println("CACHE  → quota exceeded:", err)
			break
		}
		if err != nil {
			return err
		}
	}
	stats, err := c.GetCacheStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("CACHE  → used %d of %d bytes (%.0f%%, %s), evictions = %d\n",
		stats.Storage.Used, stats.Storage.Quota, stats.Storage.Percentage,
		stats.Storage.Level, stats.Performance.Evictions)

	// ====================================================
	fmt.Println("\n==================== 8) RESPONSE STORE ====================")
	key, err := keys.APIKey("/lamps/39", nil)
	if err != nil {
		return err
	}
	if err := c.Storage().Flush(ctx); err != nil {
		return err
	}
	rec := httptest.NewRecorder()
	c.Responses().ServeHTTP(rec, httptest.NewRequest("GET", "/?key="+key, nil))
	fmt.Printf("HTTP   → GET %s → %d %s\n", key, rec.Code, rec.Body.String())

	// ====================================================
	fmt.Println("\n==================== 9) CLEAR NAMESPACE ====================")
	if err := c.ClearCache(ctx, types.NamespaceAPI); err != nil {
		return err
	}
	_, ok, _ = c.GetContent(ctx, "devotional-1", map[string]any{"lang": "en"})
	fmt.Println("CACHE  → api cleared, content still cached =", ok)

	// ====================================================
	fmt.Println("\n==================== METRICS ====================")
	stats, err = c.GetCacheStats(ctx)
	if err != nil {
		return err
	}
	p := stats.Performance
	fmt.Printf("HITS        : %d\n", p.Hits)
	fmt.Printf("MISSES      : %d\n", p.Misses)
	fmt.Printf("HIT RATE    : %.2f\n", p.HitRate)
	fmt.Printf("EVICTIONS   : %d\n", p.Evictions)
	fmt.Printf("EXPIRED     : %d\n", p.Expirations)
	fmt.Printf("REFRESHES   : %d\n", p.Refreshes)
	fmt.Printf("ENTRIES     : %d\n", stats.Storage.Entries)
	if families, err := reg.Gather(); err == nil {
		fmt.Printf("PROMETHEUS  : %d metric families\n", len(families))
	}

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	if err := c.Close(ctx); err != nil {
		return err
	}
	fmt.Println("SYSTEM → cache closed cleanly")
	return nil
}
