package strategy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/refresh"
	"github.com/krisalay/tiercache/storage"
	"github.com/krisalay/tiercache/strategy"
	"github.com/krisalay/tiercache/types"
)

var errOrigin = errors.New("origin unreachable")

type env struct {
	clock *clockwork.FakeClock
	store *storage.Manager
	reval *refresh.Revalidator
	deps  strategy.Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := clockwork.NewFakeClock()
	res := expiration.NewResolver(clock, nil)
	e := &env{
		clock: clock,
		store: storage.NewManager(storage.NewMemoryBackend(2), storage.WithResolver(res)),
		reval: refresh.New(
			refresh.WithMaxTries(2),
			refresh.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
		),
	}
	e.deps = strategy.Deps{Store: e.store, Resolver: res, Revalidator: e.reval}
	t.Cleanup(func() {
		e.reval.Close(context.Background())
		_ = e.store.Close()
	})
	return e
}

func (e *env) build(t *testing.T, kind types.StrategyKind) strategy.Strategy {
	t.Helper()
	s, err := strategy.New(kind, e.deps)
	require.NoError(t, err)
	assert.Equal(t, kind, s.Kind())
	return s
}

func (e *env) seed(t *testing.T, key, value string, ttl time.Duration) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), key, []byte(value), types.StorageOptions{TTL: ttl}))
}

type counter struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (c *counter) fetch(context.Context) ([]byte, error) {
	c.calls.Add(1)
	return c.data, c.err
}

func TestUnknownStrategy(t *testing.T) {
	e := newEnv(t)
	_, err := strategy.New("bogus", e.deps)
	assert.ErrorIs(t, err, types.ErrUnknownStrategy)
}

func TestCacheFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyCacheFirst)

	c := &counter{data: []byte("fresh")}
	got, err := s.Execute(ctx, "content:a", c.fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)

	got, err = s.Execute(ctx, "content:a", c.fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
	assert.Equal(t, int32(1), c.calls.Load())

	_, err = s.Execute(ctx, "content:b", (&counter{err: errOrigin}).fetch, types.StorageOptions{})
	assert.ErrorIs(t, err, errOrigin)
}

func TestCacheFirstCollapsesConcurrentFetches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyCacheFirst)

	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Execute(ctx, "api:shared", fetch, types.StorageOptions{})
			assert.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestJoinedCallerSurvivesFirstCallerCancellation(t *testing.T) {
	e := newEnv(t)
	s := e.build(t, types.StrategyCacheFirst)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Execute(firstCtx, "api:k", fetch, types.StorageOptions{})
		firstErr <- err
	}()
	<-started

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := s.Execute(context.Background(), "api:k", fetch, types.StorageOptions{})
		second <- result{data, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []byte("v"), got.data)
	assert.Equal(t, int32(1), calls.Load())

	ent, err := e.store.Get(context.Background(), "api:k")
	require.NoError(t, err)
	require.NotNil(t, ent)
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyNetworkFirst)

	got, err := s.Execute(ctx, "api:a", (&counter{data: []byte("v1")}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	got, err = s.Execute(ctx, "api:a", (&counter{err: errOrigin}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = s.Execute(ctx, "api:none", (&counter{err: errOrigin}).fetch, types.StorageOptions{})
	assert.ErrorIs(t, err, errOrigin)
}

func TestNetworkFirstBreakerStopsCallingOrigin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.deps.Breaker = strategy.BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute}
	s := e.build(t, types.StrategyNetworkFirst)
	e.seed(t, "api:a", "cached", time.Hour)

	c := &counter{err: errOrigin}
	for i := 0; i < 5; i++ {
		got, err := s.Execute(ctx, "api:a", c.fetch, types.StorageOptions{})
		require.NoError(t, err)
		assert.Equal(t, []byte("cached"), got)
	}
	assert.Equal(t, int32(2), c.calls.Load())
	assert.Equal(t, gobreaker.StateOpen, s.(*strategy.NetworkFirst).State())

	_, err := s.Execute(ctx, "api:none", c.fetch, types.StorageOptions{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStaleWhileRevalidateFreshHitDoesNotFetch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyStaleWhileRevalidate)
	e.seed(t, "content:a", "old", 100*time.Second)

	c := &counter{data: []byte("new")}
	got, err := s.Execute(ctx, "content:a", c.fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)

	e.reval.Wait()
	assert.Zero(t, c.calls.Load())
}

func TestStaleWhileRevalidateDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyStaleWhileRevalidate)
	e.seed(t, "content:a", "old", 100*time.Second)
	e.clock.Advance(81 * time.Second)

	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		<-release
		return []byte("new"), nil
	}

	done := make(chan []byte)
	go func() {
		got, err := s.Execute(ctx, "content:a", fetch, types.StorageOptions{TTL: 100 * time.Second})
		assert.NoError(t, err)
		done <- got
	}()

	select {
	case got := <-done:
		assert.Equal(t, []byte("old"), got)
	case <-time.After(time.Second):
		t.Fatal("stale-while-revalidate waited for the background fetch")
	}

	close(release)
	e.reval.Wait()

	ent, err := e.store.Get(ctx, "content:a")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, []byte("new"), ent.Data)
}

func TestStaleWhileRevalidateSwallowsBackgroundErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	swr := e.build(t, types.StrategyStaleWhileRevalidate).(*strategy.StaleWhileRevalidate)
	e.seed(t, "content:a", "old", 100*time.Second)
	e.clock.Advance(90 * time.Second)

	got, err := swr.Execute(ctx, "content:a", (&counter{err: errOrigin}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	e.reval.Wait()

	task := swr.Revalidate("content:a", (&counter{err: errOrigin}).fetch, types.StorageOptions{})
	assert.ErrorIs(t, task.Wait(ctx), errOrigin)

	ent, err := e.store.Get(ctx, "content:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), ent.Data)
}

func TestStaleWhileRevalidateMissFetchesSynchronously(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyStaleWhileRevalidate)

	got, err := s.Execute(ctx, "content:a", (&counter{data: []byte("v")}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ent, err := e.store.Get(ctx, "content:a")
	require.NoError(t, err)
	assert.NotNil(t, ent)
}

func TestNetworkOnlyNeverTouchesCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyNetworkOnly)
	e.seed(t, "api:a", "cached", time.Hour)

	got, err := s.Execute(ctx, "api:a", (&counter{data: []byte("live")}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("live"), got)

	ent, err := e.store.Get(ctx, "api:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), ent.Data)

	_, err = s.Execute(ctx, "api:b", (&counter{data: []byte("x")}).fetch, types.StorageOptions{})
	require.NoError(t, err)
	ent, err = e.store.Get(ctx, "api:b")
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestCacheOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := e.build(t, types.StrategyCacheOnly)
	e.seed(t, "content:a", "cached", time.Hour)

	c := &counter{data: []byte("never")}
	got, err := s.Execute(ctx, "content:a", c.fetch, types.StorageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)

	_, err = s.Execute(ctx, "content:none", c.fetch, types.StorageOptions{})
	assert.ErrorIs(t, err, types.ErrNoCachedData)
	assert.Zero(t, c.calls.Load())
}
