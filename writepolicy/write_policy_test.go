package writepolicy_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/types"
	"github.com/krisalay/tiercache/writepolicy"
)

type fakeMirror struct {
	mu    sync.Mutex
	items map[string]*types.CacheEntry
	fail  bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{items: map[string]*types.CacheEntry{}}
}

func (m *fakeMirror) Put(_ context.Context, ent *types.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror down")
	}
	m.items[ent.Key] = ent
	return nil
}

func (m *fakeMirror) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *fakeMirror) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *fakeMirror) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

func TestWriteThroughAppliesImmediately(t *testing.T) {
	ctx := context.Background()
	m := newFakeMirror()
	p := writepolicy.NewWriteThroughPolicy(m, nil)
	defer p.Close()

	p.OnWrite(ctx, &types.CacheEntry{Key: "api:a"})
	assert.True(t, m.has("api:a"))

	p.OnDelete(ctx, "api:a")
	assert.False(t, m.has("api:a"))

	p.OnWrite(ctx, &types.CacheEntry{Key: "asset:x"})
	p.OnDeletePrefix(ctx, "asset:")
	assert.False(t, m.has("asset:x"))
	assert.NoError(t, p.Flush(ctx))
}

func TestWriteThroughSwallowsMirrorErrors(t *testing.T) {
	m := newFakeMirror()
	m.fail = true
	p := writepolicy.NewWriteThroughPolicy(m, nil)

	assert.NotPanics(t, func() {
		p.OnWrite(context.Background(), &types.CacheEntry{Key: "api:a"})
	})
	assert.False(t, m.has("api:a"))
}

func TestWriteBackAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	m := newFakeMirror()
	p := writepolicy.NewWriteBackPolicy(m, 16, nil)
	defer p.Close()

	p.OnWrite(ctx, &types.CacheEntry{Key: "api:a"})
	p.OnWrite(ctx, &types.CacheEntry{Key: "api:b"})
	p.OnDelete(ctx, "api:a")

	require.NoError(t, p.Flush(ctx))
	assert.False(t, m.has("api:a"))
	assert.True(t, m.has("api:b"))
}

func TestWriteBackCloseDrainsQueue(t *testing.T) {
	m := newFakeMirror()
	p := writepolicy.NewWriteBackPolicy(m, 64, nil)

	for _, k := range []string{"api:1", "api:2", "api:3"} {
		p.OnWrite(context.Background(), &types.CacheEntry{Key: k})
	}
	p.Close()
	p.Close()

	assert.True(t, m.has("api:1"))
	assert.True(t, m.has("api:3"))

	// Changes after Close are ignored.
	p.OnWrite(context.Background(), &types.CacheEntry{Key: "api:4"})
	assert.False(t, m.has("api:4"))
}
