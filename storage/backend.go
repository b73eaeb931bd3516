// Package storage persists cache entries across the primary structured store
// and the HTTP-response store, and keeps both inside the storage quota.
package storage

import (
	"context"

	"github.com/krisalay/tiercache/types"
)

/*
Backend is a primary structured store of cache entries.

The storage manager treats every Backend the same way:
- Get returns (nil, nil) on a miss
- Put upserts by key
- Delete ignores keys that do not exist

Backends store entries exactly as given; validation, compression and quota
are the manager's job.
*/
type Backend interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, error)
	Put(ctx context.Context, entries ...*types.CacheEntry) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]types.EntryInfo, error)
	UsedBytes(ctx context.Context) (int64, error)
	Close() error
}
