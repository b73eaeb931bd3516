package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	cache "github.com/krisalay/tiercache"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/types"
)

// ================= BENCHMARK =================

func main() {
	ctx := context.Background()

	// ---------------- Cache Config ----------------
	const (
		preloadKeys = 20000
		goroutines  = 200
		opsPerG     = 5000
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Backend == config.BackendSQLite && os.Getenv(config.EnvPrefix+"DB_PATH") == "" {
		dir, err := os.MkdirTemp("", "tiercache-bench")
		if err != nil {
			fmt.Fprintln(os.Stderr, "temp dir:", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		cfg.DBPath = filepath.Join(dir, "bench.db")
	}

	fmt.Println("\n================ CACHE LOAD BENCHMARK =================")
	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Backend      :", cfg.Backend)
	fmt.Println("Shards       :", cfg.Shards)
	fmt.Println("Quota        :", cfg.QuotaBytes)
	fmt.Println("Preload Keys :", preloadKeys)
	fmt.Println("Goroutines   :", goroutines)
	fmt.Println("Ops/Goroutine:", opsPerG)
	fmt.Println("---------------------------------")

	c, err := cache.New(ctx, cache.WithConfig(cfg), cache.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache:", err)
		os.Exit(1)
	}
	defer c.Close(ctx)

	// ---------------- Preload Cache ----------------
	fmt.Println("Preloading cache...")
	for i := 0; i < preloadKeys; i++ {
		err := c.CacheAPIResponse(ctx, fmt.Sprintf("/key/%d", i), nil, types.APIPayload{
			Response: json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)),
			Status:   200,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "preload:", err)
			os.Exit(1)
		}
	}
	fmt.Println("Preload complete.")

	// ---------------- Warmup ----------------
	fmt.Println("Warming up cache...")
	for i := 0; i < 10000; i++ {
		_, _, _ = c.GetAPIResponse(ctx, fmt.Sprintf("/key/%d", i%preloadKeys), nil)
	}
	c.Tracker().Reset()
	fmt.Println("Warmup complete.")

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")

	start := time.Now()

	wg := sync.WaitGroup{}
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				_, _, _ = c.GetAPIResponse(ctx, fmt.Sprintf("/key/%d", j%preloadKeys), nil)
			}
		}()
	}

	wg.Wait()

	duration := time.Since(start)
	totalOps := goroutines * opsPerG

	stats, err := c.GetCacheStats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stats:", err)
		os.Exit(1)
	}

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Hit Rate         : %.4f\n", stats.Performance.HitRate)
	fmt.Printf("Avg Lookup       : %v\n", stats.Performance.AvgResponseTime)
	fmt.Printf("Storage          : %d entries, %d bytes (%s)\n",
		stats.Storage.Entries, stats.Storage.Used, stats.Storage.Level)
	fmt.Println("=========================================")
}
