package storage

import (
	"context"

	"github.com/krisalay/tiercache/types"
)

/*
NoopBackend stores nothing. The manager falls back to it when no structured
store could be opened: writes succeed silently and every read is a miss, so
the application keeps working without a cache.
*/
type NoopBackend struct{}

func (NoopBackend) Get(context.Context, string) (*types.CacheEntry, error) { return nil, nil }
func (NoopBackend) Put(context.Context, ...*types.CacheEntry) error        { return nil }
func (NoopBackend) Delete(context.Context, ...string) error                { return nil }
func (NoopBackend) DeletePrefix(context.Context, string) error             { return nil }
func (NoopBackend) Clear(context.Context) error                            { return nil }
func (NoopBackend) List(context.Context) ([]types.EntryInfo, error)        { return nil, nil }
func (NoopBackend) UsedBytes(context.Context) (int64, error)               { return 0, nil }
func (NoopBackend) Close() error                                           { return nil }
