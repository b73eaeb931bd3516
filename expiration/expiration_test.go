package expiration_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/types"
)

func newEntry(clock clockwork.Clock, ttl time.Duration) *types.CacheEntry {
	data := []byte(`["catA","catB"]`)
	return &types.CacheEntry{
		Key:         "api:/quiz/categories",
		Kind:        types.KindRaw,
		Data:        data,
		Timestamp:   clock.Now(),
		TTL:         ttl,
		Version:     types.SchemaVersion,
		Priority:    types.PriorityMedium,
		Size:        int64(len(data)),
		ContentType: types.ContentTypeQuiz,
	}
}

func TestTTLForDefaultsAndOverrides(t *testing.T) {
	r := expiration.NewResolver(nil, map[types.ContentType]time.Duration{
		types.ContentTypeSearch: time.Minute,
	})

	assert.Equal(t, 24*time.Hour, r.TTLFor(types.ContentTypeContent))
	assert.Equal(t, 5*time.Minute, r.TTLFor(types.ContentTypeAPI))
	assert.Equal(t, time.Minute, r.TTLFor(types.ContentTypeSearch))
	assert.Equal(t, 365*24*time.Hour, r.TTLFor(types.ContentTypeFont))
	assert.Equal(t, 5*time.Minute, r.TTLFor("unknown"))
}

func TestStaleIsNotExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := expiration.NewResolver(clock, nil)
	ent := newEntry(clock, 100*time.Second)

	clock.Advance(79 * time.Second)
	assert.False(t, r.IsStale(ent))

	clock.Advance(2 * time.Second) // 81%
	assert.True(t, r.IsStale(ent))
	assert.False(t, r.IsExpired(ent))
	assert.Equal(t, 19*time.Second, r.Remaining(ent))

	clock.Advance(20 * time.Second)
	assert.True(t, r.IsExpired(ent))
	assert.Equal(t, time.Duration(0), r.Remaining(ent))
}

func TestExtendAndRefreshTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := expiration.NewResolver(clock, nil)
	ent := newEntry(clock, time.Minute)

	r.ExtendTTL(ent, time.Minute)
	assert.Equal(t, 2*time.Minute, ent.TTL)

	clock.Advance(90 * time.Second)
	r.RefreshTTL(ent)
	assert.Equal(t, clock.Now(), ent.Timestamp)
	assert.Equal(t, time.Hour, ent.TTL)
}

func TestValidatorClassifies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := expiration.NewValidator(expiration.NewResolver(clock, nil), nil)

	ent := newEntry(clock, time.Minute)
	assert.Equal(t, expiration.Valid, v.Check(ent))
	assert.True(t, v.IsValid(ent))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, expiration.Expired, v.Check(ent))
	assert.False(t, v.IsValid(ent))

	assert.Equal(t, expiration.Corrupt, v.Check(nil))

	bad := newEntry(clock, time.Minute)
	bad.Size = 1
	assert.Equal(t, expiration.Corrupt, v.Check(bad))

	unknown := newEntry(clock, time.Minute)
	unknown.Kind = "blob"
	assert.Equal(t, expiration.Corrupt, v.Check(unknown))
}

func TestCheckPayloadPerKind(t *testing.T) {
	assert.NoError(t, expiration.CheckPayload(types.KindAPI, []byte(`{"response":[1],"status":200}`)))
	assert.Error(t, expiration.CheckPayload(types.KindAPI, []byte(`{"response":[1]}`)))
	assert.NoError(t, expiration.CheckPayload(types.KindContent, []byte(`{"content":{"title":"Psalm"}}`)))
	assert.Error(t, expiration.CheckPayload(types.KindContent, []byte(`{"images":["a"]}`)))
	assert.NoError(t, expiration.CheckPayload(types.KindAsset, []byte(`{"blob":"AQI=","mimeType":"image/png","url":"/a.png"}`)))
	assert.Error(t, expiration.CheckPayload(types.KindAsset, []byte(`not json`)))
	assert.NoError(t, expiration.CheckPayload(types.KindRaw, []byte(`anything`)))
}
