// Package strategy implements the fetch-or-serve policies a cache read can follow.
package strategy

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/refresh"
	"github.com/krisalay/tiercache/types"
)

// Store is the part of the storage manager strategies need.
type Store interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, error)
	Set(ctx context.Context, key string, data []byte, opts types.StorageOptions) error
}

/*
Strategy is one retrieval policy. The state machine is per request, not per
entry: each Execute decides from scratch whether to serve the cache, call
fetch, or both.
*/
type Strategy interface {
	Kind() types.StrategyKind
	Execute(ctx context.Context, key string, fetch types.FetchFunc, opts types.StorageOptions) ([]byte, error)
}

// Deps are the collaborators strategies are built from.
type Deps struct {
	Store       Store
	Resolver    *expiration.Resolver
	Revalidator *refresh.Revalidator
	Breaker     BreakerConfig
	Logger      *zap.Logger

	// Group collapses concurrent fetches of one key. Strategies built from
	// the same Deps share it.
	Group *singleflight.Group
}

// New builds the strategy for kind.
func New(kind types.StrategyKind, deps Deps) (Strategy, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("strategy %s: store is required", kind)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Group == nil {
		deps.Group = &singleflight.Group{}
	}
	b := base{store: deps.Store, group: deps.Group, logger: deps.Logger}

	switch kind {
	case types.StrategyCacheFirst:
		return &CacheFirst{base: b}, nil
	case types.StrategyNetworkFirst:
		return newNetworkFirst(b, deps.Breaker), nil
	case types.StrategyStaleWhileRevalidate:
		if deps.Resolver == nil || deps.Revalidator == nil {
			return nil, fmt.Errorf("strategy %s: resolver and revalidator are required", kind)
		}
		return &StaleWhileRevalidate{base: b, ttl: deps.Resolver, reval: deps.Revalidator}, nil
	case types.StrategyNetworkOnly:
		return &NetworkOnly{base: b}, nil
	case types.StrategyCacheOnly:
		return &CacheOnly{base: b}, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, kind)
	}
}

// base holds what every strategy shares.
type base struct {
	store  Store
	group  *singleflight.Group
	logger *zap.Logger
}

// cached returns the valid entry for key, or nil. Read failures count as misses.
func (b *base) cached(ctx context.Context, key string) *types.CacheEntry {
	ent, err := b.store.Get(ctx, key)
	if err != nil {
		b.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return ent
}

/*
fetch calls fn once per key no matter how many callers ask concurrently.

fn runs on a context detached from the caller's cancellation, so the caller
that happened to start the flight cannot fail the others by going away. Each
caller still stops waiting when its own ctx ends.
*/
func (b *base) fetch(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	ch := b.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		markFetched(ctx)
		return res.Val.([]byte), nil
	}
}

type fetchedKey struct{}

// TrackFetches returns a context under which strategies report whether the
// request got its data from the origin, including data fetched by another
// caller it was collapsed into. Background revalidations are not reported.
func TrackFetches(ctx context.Context) (context.Context, *atomic.Bool) {
	flag := new(atomic.Bool)
	return context.WithValue(ctx, fetchedKey{}, flag), flag
}

func markFetched(ctx context.Context) {
	if flag, ok := ctx.Value(fetchedKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}

// fetchAndStore fetches and writes the result. A failed write is logged; the
// fetched data is still returned.
func (b *base) fetchAndStore(ctx context.Context, key string, fetch types.FetchFunc, opts types.StorageOptions) ([]byte, error) {
	return b.fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		b.save(ctx, key, data, opts)
		return data, nil
	})
}

func (b *base) save(ctx context.Context, key string, data []byte, opts types.StorageOptions) {
	if err := b.store.Set(ctx, key, data, opts); err != nil {
		b.logger.Warn("failed to store fetched data", zap.String("key", key), zap.Error(err))
	}
}
