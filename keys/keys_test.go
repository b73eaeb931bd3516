package keys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/keys"
	"github.com/krisalay/tiercache/types"
)

func TestBuild(t *testing.T) {
	assert.Equal(t, "content:psalm-23", keys.Build(types.NamespaceContent, "psalm-23", ""))
	assert.Equal(t, "api:x:abc", keys.Build(types.NamespaceAPI, "x", "abc"))
}

func TestParamsOrderDoesNotMatter(t *testing.T) {
	a, err := keys.ContentKey("prayer-1", map[string]any{"lang": "en", "page": 2, "opts": map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	b, err := keys.ContentKey("prayer-1", map[string]any{"opts": map[string]any{"a": 2, "b": 1}, "page": 2, "lang": "en"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := keys.ContentKey("prayer-1", map[string]any{"lang": "ta"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestContentKeyWithoutParams(t *testing.T) {
	k, err := keys.ContentKey("daily:verse", nil)
	require.NoError(t, err)
	assert.Equal(t, "content:daily%3Averse", k)
}

func TestEquivalentURLsCollide(t *testing.T) {
	a, err := keys.APIKey("https://backend.example/quiz/categories?b=2&a=1", nil)
	require.NoError(t, err)
	b, err := keys.APIKey("/quiz/categories?a=1&b=2", nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "api:quiz_categories_a_1_b_2", a)
}

func TestNonASCIIPathsStayDistinct(t *testing.T) {
	a, err := keys.APIKey("/content/दीया", nil)
	require.NoError(t, err)
	b, err := keys.APIKey("/content/आरती", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "api:content_दीया", a)

	escaped, err := keys.APIKey("/content/%E0%A4%A6%E0%A5%80%E0%A4%AF%E0%A4%BE", nil)
	require.NoError(t, err)
	assert.Equal(t, a, escaped)

	c, err := keys.AssetKey("/img/दीया.png")
	require.NoError(t, err)
	d, err := keys.AssetKey("/img/आरती.png")
	require.NoError(t, err)
	assert.NotEqual(t, c, d)
}

func TestAssetKey(t *testing.T) {
	k, err := keys.AssetKey("https://cdn.example/img/lamp.png")
	require.NoError(t, err)
	assert.Equal(t, "asset:img_lamp_png", k)

	_, err = keys.AssetKey("https://cdn.example/")
	assert.Error(t, err)
}

func TestNamespaceAndCacheability(t *testing.T) {
	assert.Equal(t, types.NamespaceAPI, keys.Namespace("api:/quiz/categories"))
	assert.Equal(t, types.Namespace(""), keys.Namespace("no-namespace"))

	assert.True(t, keys.IsHTTPCacheable("api:x"))
	assert.True(t, keys.IsHTTPCacheable("asset:x"))
	assert.False(t, keys.IsHTTPCacheable("content:x"))
	assert.Equal(t, "asset:", keys.Prefix(types.NamespaceAsset))
}
