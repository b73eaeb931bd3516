package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/engine"
	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/refresh"
	"github.com/krisalay/tiercache/storage"
	"github.com/krisalay/tiercache/strategy"
	"github.com/krisalay/tiercache/types"
)

func newOrchestrator(t *testing.T, overrides map[types.ContentType]engine.Override) (*engine.Orchestrator, *storage.Manager) {
	t.Helper()
	res := expiration.NewResolver(clockwork.NewFakeClock(), nil)
	store := storage.NewManager(storage.NewMemoryBackend(2), storage.WithResolver(res))
	reval := refresh.New()
	t.Cleanup(func() {
		reval.Close(context.Background())
		_ = store.Close()
	})
	return engine.NewOrchestrator(strategy.Deps{Store: store, Resolver: res, Revalidator: reval}, overrides), store
}

func TestDefaultPolicyTable(t *testing.T) {
	p := engine.DefaultPolicies()
	for _, ct := range types.ContentTypes {
		policy, ok := p[ct]
		require.True(t, ok, ct)
		assert.True(t, policy.Strategy.Valid(), ct)
		assert.True(t, policy.Priority.Valid(), ct)
		assert.Positive(t, policy.TTL, ct)
	}
	assert.Equal(t, types.StrategyStaleWhileRevalidate, p[types.ContentTypeContent].Strategy)
	assert.Equal(t, types.StrategyNetworkFirst, p[types.ContentTypeAPI].Strategy)
	assert.Equal(t, types.StrategyCacheFirst, p[types.ContentTypeImage].Strategy)
}

func TestOverridesAndPerCallOptions(t *testing.T) {
	o, _ := newOrchestrator(t, map[types.ContentType]engine.Override{
		types.ContentTypeSearch: {TTL: time.Minute, Strategy: types.StrategyCacheFirst},
	})

	p := o.Policy(types.ContentTypeSearch)
	assert.Equal(t, time.Minute, p.TTL)
	assert.Equal(t, types.StrategyCacheFirst, p.Strategy)
	assert.Equal(t, types.PriorityLow, p.Priority)

	opts := o.Resolve(types.ContentTypeSearch, types.StorageOptions{
		Priority: types.PriorityHigh,
		Compress: types.Bool(true),
		Kind:     types.KindAPI,
		ETag:     `"e"`,
	})
	assert.Equal(t, time.Minute, opts.TTL)
	assert.Equal(t, types.PriorityHigh, opts.Priority)
	assert.True(t, *opts.Compress)
	assert.Equal(t, types.KindAPI, opts.Kind)
	assert.Equal(t, types.ContentTypeSearch, opts.ContentType)
	assert.Equal(t, `"e"`, opts.ETag)

	assert.Equal(t, o.Policy(types.ContentTypeAPI), o.Policy("unknown"))
}

func TestStrategiesAreMemoized(t *testing.T) {
	o, _ := newOrchestrator(t, nil)
	a, err := o.Strategy(types.StrategyCacheFirst)
	require.NoError(t, err)
	b, err := o.Strategy(types.StrategyCacheFirst)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = o.Strategy("nope")
	assert.ErrorIs(t, err, types.ErrUnknownStrategy)
}

func TestExecuteStrategyStoresWithResolvedPolicy(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, nil)

	fetch := func(context.Context) ([]byte, error) { return []byte(`["a","b"]`), nil }
	got, err := o.ExecuteStrategy(ctx, "api:_quiz_categories", types.ContentTypeQuiz, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte(`["a","b"]`), got)

	ent, err := store.Get(ctx, "api:_quiz_categories")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, time.Hour, ent.TTL)
	assert.Equal(t, types.PriorityMedium, ent.Priority)
	assert.Equal(t, types.ContentTypeQuiz, ent.ContentType)

	_, err = o.ExecuteStrategy(ctx, "api:x", types.ContentTypeAPI, fetch, types.StorageOptions{Strategy: "bogus"})
	assert.ErrorIs(t, err, types.ErrUnknownStrategy)
}
