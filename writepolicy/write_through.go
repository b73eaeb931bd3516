package writepolicy

import (
	"context"

	"go.uber.org/zap"

	"github.com/krisalay/tiercache/types"
)

/*
This file implements the "write-through" policy.

Whenever the primary store changes, the same change is applied to the mirror
immediately. So the flow is: primary write → mirror write (synchronous)
*/

// WriteThroughPolicy forwards every change to the mirror on the caller's goroutine.
type WriteThroughPolicy struct {

	// mirror is where changes must be applied immediately.
	mirror Mirror
	logger *zap.Logger
}

// NewWriteThroughPolicy creates a new write-through policy.
func NewWriteThroughPolicy(mirror Mirror, logger *zap.Logger) *WriteThroughPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WriteThroughPolicy{mirror: mirror, logger: logger}
}

func (w *WriteThroughPolicy) OnWrite(ctx context.Context, ent *types.CacheEntry) {
	if err := w.mirror.Put(ctx, ent); err != nil {
		w.logger.Warn("mirror write failed", zap.String("key", ent.Key), zap.Error(err))
	}
}

func (w *WriteThroughPolicy) OnDelete(ctx context.Context, keys ...string) {
	if err := w.mirror.Delete(ctx, keys...); err != nil {
		w.logger.Warn("mirror delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (w *WriteThroughPolicy) OnDeletePrefix(ctx context.Context, prefix string) {
	if err := w.mirror.DeletePrefix(ctx, prefix); err != nil {
		w.logger.Warn("mirror prefix delete failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

// Flush has nothing to wait for: every change was applied when it was made.
func (w *WriteThroughPolicy) Flush(context.Context) error { return nil }

// Close has nothing to clean up. Write-through does not use background workers.
func (w *WriteThroughPolicy) Close() {}
