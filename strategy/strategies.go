package strategy

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/refresh"
	"github.com/krisalay/tiercache/types"
)

// CacheFirst serves a valid cached entry without fetching; otherwise it
// fetches, stores and returns. Fetch failures propagate.
type CacheFirst struct {
	base
}

func (s *CacheFirst) Kind() types.StrategyKind { return types.StrategyCacheFirst }

func (s *CacheFirst) Execute(ctx context.Context, key string, fetch types.FetchFunc, opts types.StorageOptions) ([]byte, error) {
	if ent := s.cached(ctx, key); ent != nil {
		return ent.Data, nil
	}
	return s.fetchAndStore(ctx, key, fetch, opts)
}

// BreakerConfig tunes the circuit breaker that guards network-first fetches.
type BreakerConfig struct {
	Name string

	// MaxRequests may pass while half-open.
	MaxRequests uint32

	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker. Zero disables it.
	ConsecutiveFailures uint32
}

/*
NetworkFirst fetches first and stores on success. When the fetch fails, or
the breaker is open because the origin keeps failing, it serves the valid
cached entry instead; only when that is missing too does the fetch error
propagate.
*/
type NetworkFirst struct {
	base
	breaker *gobreaker.CircuitBreaker
}

// newNetworkFirst wraps fetches in a breaker configured by cfg.
func newNetworkFirst(b base, cfg BreakerConfig) *NetworkFirst {
	s := &NetworkFirst{base: b}
	if cfg.ConsecutiveFailures == 0 {
		return s
	}
	name := cfg.Name
	if name == "" {
		name = string(types.StrategyNetworkFirst)
	}
	logger := b.logger
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return s
}

func (s *NetworkFirst) Kind() types.StrategyKind { return types.StrategyNetworkFirst }

func (s *NetworkFirst) Execute(ctx context.Context, key string, fetch types.FetchFunc, opts types.StorageOptions) ([]byte, error) {
	data, err := s.fetchAndStore(ctx, key, s.guard(fetch), opts)
	if err == nil {
		return data, nil
	}
	if ent := s.cached(ctx, key); ent != nil {
		s.logger.Debug("network failed, serving cached data", zap.String("key", key), zap.Error(err))
		return ent.Data, nil
	}
	return nil, err
}

func (s *NetworkFirst) guard(fetch types.FetchFunc) types.FetchFunc {
	if s.breaker == nil {
		return fetch
	}
	return func(ctx context.Context) ([]byte, error) {
		v, err := s.breaker.Execute(func() (interface{}, error) {
			return fetch(ctx)
		})
		if err != nil {
			return nil, err
		}
		return v.([]byte), nil
	}
}

// State reports the breaker state; closed when no breaker is configured.
func (s *NetworkFirst) State() gobreaker.State {
	if s.breaker == nil {
		return gobreaker.StateClosed
	}
	return s.breaker.State()
}

/*
StaleWhileRevalidate serves a valid cached entry immediately. If that entry
is also stale, a background task re-fetches and overwrites it; the caller
never waits for it and never sees its errors. A miss fetches synchronously.
*/
type StaleWhileRevalidate struct {
	base
	ttl   *expiration.Resolver
	reval *refresh.Revalidator
}

func (s *StaleWhileRevalidate) Kind() types.StrategyKind { return types.StrategyStaleWhileRevalidate }

func (s *StaleWhileRevalidate) Execute(ctx context.Context, key string, fetch types.FetchFunc, opts types.StorageOptions) ([]byte, error) {
	ent := s.cached(ctx, key)
	if ent == nil {
		return s.fetchAndStore(ctx, key, fetch, opts)
	}
	if s.ttl.IsStale(ent) {
		s.Revalidate(key, fetch, opts)
	}
	return ent.Data, nil
}

// Revalidate queues a background refresh of key and returns its task.
func (s *StaleWhileRevalidate) Revalidate(key string, fetch types.FetchFunc, opts types.StorageOptions) *refresh.Task {
	return s.reval.Submit(key, func(ctx context.Context) error {
		data, err := fetch(ctx)
		if err != nil {
			return err
		}
		return s.store.Set(ctx, key, data, opts)
	})
}

// NetworkOnly always fetches and never touches the cache.
type NetworkOnly struct {
	base
}

func (s *NetworkOnly) Kind() types.StrategyKind { return types.StrategyNetworkOnly }

func (s *NetworkOnly) Execute(ctx context.Context, key string, fetch types.FetchFunc, _ types.StorageOptions) ([]byte, error) {
	return s.fetch(ctx, string(types.StrategyNetworkOnly)+"|"+key, fetch)
}

// CacheOnly never fetches. A miss is types.ErrNoCachedData.
type CacheOnly struct {
	base
}

func (s *CacheOnly) Kind() types.StrategyKind { return types.StrategyCacheOnly }

func (s *CacheOnly) Execute(ctx context.Context, key string, _ types.FetchFunc, _ types.StorageOptions) ([]byte, error) {
	if ent := s.cached(ctx, key); ent != nil {
		return ent.Data, nil
	}
	return nil, types.ErrNoCachedData
}
