// Package keys builds the namespaced keys every cache entry is stored under.
//
// A key has the shape namespace:identifier[:subKey]. The same logical target
// always maps to the same key: URLs are normalized and parameter objects are
// canonicalized before being hashed into the sub-key.
package keys

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/krisalay/tiercache/types"
)

const sep = ":"

// Build joins namespace, identifier and an optional sub-key.
func Build(ns types.Namespace, identifier, subKey string) string {
	k := string(ns) + sep + identifier
	if subKey != "" {
		k += sep + subKey
	}
	return k
}

// ContentKey returns the key for a content document and its request parameters.
func ContentKey(contentID string, params map[string]any) (string, error) {
	sub, err := ParamsHash(params)
	if err != nil {
		return "", err
	}
	return Build(types.NamespaceContent, escapeID(contentID), sub), nil
}

// APIKey returns the key for an API response. Equivalent URLs share a key.
func APIKey(rawURL string, params map[string]any) (string, error) {
	id, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	sub, err := ParamsHash(params)
	if err != nil {
		return "", err
	}
	return Build(types.NamespaceAPI, id, sub), nil
}

// AssetKey returns the key for a static asset URL.
func AssetKey(rawURL string) (string, error) {
	id, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return Build(types.NamespaceAsset, id, ""), nil
}

/*
NormalizeURL reduces a URL to path + canonical query and collapses every run
of non-alphanumeric characters to a single underscore. Letters and digits of
every script are kept, so "/content/दीया" stays distinct from "/content/आरती".

Scheme and host are dropped, and the query is re-encoded with sorted keys, so
"https://a.example/quiz/categories?b=2&a=1" and "/quiz/categories?a=1&b=2"
both normalize to "quiz_categories_a_1_b_2".
*/
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("normalize url %q: %w", rawURL, err)
	}
	s := u.Path
	if q := u.Query(); len(q) > 0 {
		s += "?" + q.Encode()
	}
	id := collapse(s)
	if id == "" {
		return "", fmt.Errorf("normalize url %q: empty identifier", rawURL)
	}
	return id, nil
}

// ParamsHash canonicalizes params (map keys sorted at every level) and hashes
// them into a fixed-width sub-key. Empty params yield "".
func ParamsHash(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	// encoding/json writes map keys in sorted order.
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize params: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b)), nil
}

// Namespace returns the namespace segment of key.
func Namespace(key string) types.Namespace {
	ns, _, ok := strings.Cut(key, sep)
	if !ok {
		return ""
	}
	return types.Namespace(ns)
}

// Prefix returns the prefix shared by every key in ns.
func Prefix(ns types.Namespace) string {
	return string(ns) + sep
}

// IsHTTPCacheable reports whether key should also be mirrored into the
// HTTP-response cache.
func IsHTTPCacheable(key string) bool {
	switch Namespace(key) {
	case types.NamespaceAPI, types.NamespaceAsset:
		return true
	default:
		return false
	}
}

func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if isAlnum(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// isAlnum accepts letters and digits of any script. Combining marks count
// too: Devanagari vowel signs are marks, and dropping them merges words.
func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// escapeID keeps content ids from introducing extra key segments.
func escapeID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), sep, "%3A")
}
