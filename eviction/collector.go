// This file implements the garbage collector that frees space under quota pressure.

package eviction

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/types"
)

// DefaultBatchSize bounds how many keys are removed per store call.
const DefaultBatchSize = 50

// Target is the store the collector cleans. The storage manager implements
// it so that removals reach every physical store.
type Target interface {
	List(ctx context.Context) ([]types.EntryInfo, error)
	Remove(ctx context.Context, keys ...string) error
}

// Result reports what one cleanup pass did.
type Result struct {
	Requested int64
	Freed     int64
	Expired   int
	Evicted   int
}

// Satisfied reports whether the pass freed at least what was asked.
func (r Result) Satisfied() bool {
	return r.Freed >= r.Requested
}

/*
Collector frees space in two phases:
 1. every expired entry is removed (always correct, cheap)
 2. if still short, live entries go in priority order low → medium → high,
    oldest first inside each priority, in bounded batches

It only ever removes, so it is safe to run at any time.
*/
type Collector struct {
	target    Target
	clock     clockwork.Clock
	batchSize int
	recorder  types.Recorder
	logger    *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithBatchSize sets how many keys are removed per store call.
func WithBatchSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRecorder reports evictions and expirations to r.
func WithRecorder(r types.Recorder) Option {
	return func(c *Collector) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used to decide expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCollector creates a Collector over target.
func NewCollector(target Target, opts ...Option) *Collector {
	c := &Collector{
		target:    target,
		clock:     clockwork.NewRealClock(),
		batchSize: DefaultBatchSize,
		recorder:  types.NoopRecorder{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PerformCleanup removes expired entries, then evicts by priority until
// spaceToFree bytes are freed or nothing is left. Freeing less than asked is
// not an error; it is logged and visible in the Result.
func (c *Collector) PerformCleanup(ctx context.Context, spaceToFree int64) (Result, error) {
	res := Result{Requested: spaceToFree}

	infos, err := c.target.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list entries: %w", err)
	}

	now := c.clock.Now()
	var expired []types.EntryInfo
	byPriority := make(map[types.Priority][]types.EntryInfo)
	for _, info := range infos {
		if now.After(info.Timestamp.Add(info.TTL)) {
			expired = append(expired, info)
			continue
		}
		byPriority[info.Priority] = append(byPriority[info.Priority], info)
	}

	// Phase 1: expired entries.
	for start := 0; start < len(expired); start += c.batchSize {
		batch := expired[start:min(start+c.batchSize, len(expired))]
		if err := c.target.Remove(ctx, keysOf(batch)...); err != nil {
			return res, fmt.Errorf("remove expired entries: %w", err)
		}
		for _, info := range batch {
			res.Freed += info.Size
			res.Expired++
			c.recorder.Expire(info.Key)
		}
	}

	// Phase 2: live entries by priority, oldest first.
	order := make([]types.Priority, 0, len(byPriority))
	for p := range byPriority {
		order = append(order, p)
	}
	for _, p := range drainOrder(order) {
		if res.Satisfied() {
			break
		}
		candidates := byPriority[p]
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
				return candidates[i].Key < candidates[j].Key
			}
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		})

		for len(candidates) > 0 && !res.Satisfied() {
			batch := make([]types.EntryInfo, 0, c.batchSize)
			var planned int64
			for len(candidates) > 0 && len(batch) < c.batchSize && res.Freed+planned < spaceToFree {
				batch = append(batch, candidates[0])
				planned += candidates[0].Size
				candidates = candidates[1:]
			}
			if err := c.target.Remove(ctx, keysOf(batch)...); err != nil {
				return res, fmt.Errorf("evict %s priority entries: %w", p, err)
			}
			for _, info := range batch {
				res.Freed += info.Size
				res.Evicted++
				c.recorder.Eviction(info.Key, info.Size)
			}
		}
	}

	if !res.Satisfied() {
		c.logger.Warn("cleanup freed less than requested",
			zap.Int64("requested", res.Requested),
			zap.Int64("freed", res.Freed),
		)
	} else {
		c.logger.Debug("cleanup completed",
			zap.Int64("requested", res.Requested),
			zap.Int64("freed", res.Freed),
			zap.Int("expired", res.Expired),
			zap.Int("evicted", res.Evicted),
		)
	}
	return res, nil
}

func keysOf(infos []types.EntryInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Key
	}
	return out
}
