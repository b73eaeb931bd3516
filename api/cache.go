package api

import (
	"context"
	"time"

	"github.com/krisalay/tiercache/metrics"
	"github.com/krisalay/tiercache/storage"
	"github.com/krisalay/tiercache/types"
)

/*
Cache defines the PUBLIC API of the cache engine.
This is the only surface the rest of an application should use. Where data
lives (structured store, response store), how long it stays valid, what
happens under storage pressure and which retrieval strategy applies are all
hidden behind it.
*/
type Cache interface {

	/*
		Initialize bootstraps the cache.

		BEHAVIOR:
		---------
		- Removes entries that expired while the process was down
		- Frees space if the store starts above the critical threshold
		- Reports what is available

		Safe to call any number of times; only the first call does work.
	*/
	Initialize(ctx context.Context) (Status, error)

	/*
		CacheContent stores a content document under content:<id>[:<params>].
		TTL, priority and compression come from the content policy unless
		opts override them.
	*/
	CacheContent(ctx context.Context, contentID string, params map[string]any, payload types.ContentPayload, opts ...types.StorageOptions) error

	/*
		GetContent returns the cached document.

		RETURN VALUES:
		--------------
		- (payload, true, nil)  : valid entry found
		- (nil, false, nil)     : missing, expired or corrupt (all are misses)
		- (nil, false, err)     : the key could not be built or the read failed
	*/
	GetContent(ctx context.Context, contentID string, params map[string]any) (*types.ContentPayload, bool, error)

	// CacheAPIResponse stores an API response under api:<normalized url>[:<params>].
	CacheAPIResponse(ctx context.Context, url string, params map[string]any, payload types.APIPayload, opts ...types.StorageOptions) error

	// GetAPIResponse returns the cached API response. Same return values as GetContent.
	GetAPIResponse(ctx context.Context, url string, params map[string]any) (*types.APIPayload, bool, error)

	// CacheAsset stores a binary asset under asset:<normalized url>.
	CacheAsset(ctx context.Context, url string, payload types.AssetPayload, opts ...types.StorageOptions) error

	// GetAsset returns the cached asset. Same return values as GetContent.
	GetAsset(ctx context.Context, url string) (*types.AssetPayload, bool, error)

	/*
		Fetch reads key through the retrieval strategy configured for ct.

		The strategy decides whether to serve the cache, call fetch, or both.
		Whatever fetch returns is stored with ct's policy (unless the strategy
		is network-only).
	*/
	Fetch(ctx context.Context, key string, ct types.ContentType, fetch types.FetchFunc, opts ...types.StorageOptions) ([]byte, error)

	/*
		ClearCache removes every entry of the given namespaces.
		With no namespaces, it removes everything.
	*/
	ClearCache(ctx context.Context, namespaces ...types.Namespace) error

	// GetCacheStats merges hit/miss statistics with storage usage.
	GetCacheStats(ctx context.Context) (Stats, error)

	// IsValid reports whether key holds a well-formed, unexpired entry.
	IsValid(ctx context.Context, key string) (bool, error)

	// Invalidate removes key from every store. Removing a missing key is a no-op.
	Invalidate(ctx context.Context, key string) error

	// ExtendTTL adds d to the TTL of key. It returns false if key is not stored.
	ExtendTTL(ctx context.Context, key string, d time.Duration) (bool, error)

	// RefreshTTL restarts the life of key with its content type's default TTL.
	RefreshTTL(ctx context.Context, key string) (bool, error)

	/*
		Close gracefully shuts down the cache.

		BEHAVIOR:
		---------
		- Waits for (or abandons, when ctx ends) queued revalidations
		- Flushes pending response-store mirroring
		- Closes the structured store
	*/
	Close(ctx context.Context) error
}

// Status is what Initialize reports.
type Status struct {
	Initialized      bool `json:"initialized"`
	StorageAvailable bool `json:"storageAvailable"`
	OfflineSupported bool `json:"offlineSupported"`
}

// Stats is the merged view returned by GetCacheStats.
type Stats struct {
	Performance          metrics.Stats `json:"performance"`
	Storage              storage.Usage `json:"storage"`
	Backend              string        `json:"backend"`
	CachedResponses      int           `json:"cachedResponses"`
	PendingRevalidations int           `json:"pendingRevalidations"`
}
