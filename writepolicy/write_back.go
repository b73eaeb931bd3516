package writepolicy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/krisalay/tiercache/types"
)

// This file implements the "write-back" policy.

type opKind int

const (
	opPut opKind = iota
	opDelete
	opDeletePrefix
	opFlush
)

// mirrorOp is one pending change that needs to be applied to the mirror.
type mirrorOp struct {
	kind   opKind
	ent    *types.CacheEntry
	keys   []string
	prefix string
	done   chan struct{}
}

/*
WriteBackPolicy applies mirror changes asynchronously, in the order they were
made, on a single background worker.

Writes are dropped when the queue is full so the cache path never blocks on
the mirror. Deletes are never dropped: a dropped delete could let the mirror
serve something the caller removed, so they wait for room instead.
*/
type WriteBackPolicy struct {
	mirror Mirror
	logger *zap.Logger

	// ch is a buffered channel that holds pending changes.
	ch chan mirrorOp

	// mu guards closed against concurrent sends.
	mu     sync.RWMutex
	closed bool

	// wg is used to wait for the worker to finish during shutdown.
	wg sync.WaitGroup
}

// NewWriteBackPolicy creates a new write-back policy and starts its worker.
func NewWriteBackPolicy(mirror Mirror, buffer int, logger *zap.Logger) *WriteBackPolicy {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WriteBackPolicy{
		mirror: mirror,
		logger: logger,
		ch:     make(chan mirrorOp, buffer),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

func (w *WriteBackPolicy) OnWrite(_ context.Context, ent *types.CacheEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.ch <- mirrorOp{kind: opPut, ent: ent.Clone()}:
	default:
		w.logger.Warn("mirror queue full, dropping write", zap.String("key", ent.Key))
	}
}

func (w *WriteBackPolicy) OnDelete(ctx context.Context, keys ...string) {
	w.enqueue(ctx, mirrorOp{kind: opDelete, keys: append([]string(nil), keys...)})
}

func (w *WriteBackPolicy) OnDeletePrefix(ctx context.Context, prefix string) {
	w.enqueue(ctx, mirrorOp{kind: opDeletePrefix, prefix: prefix})
}

// Flush waits until every change queued before the call has been applied.
func (w *WriteBackPolicy) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !w.enqueue(ctx, mirrorOp{kind: opFlush, done: done}) {
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue blocks until op is queued. It reports false when the policy is
// closed or ctx ends first.
func (w *WriteBackPolicy) enqueue(ctx context.Context, op mirrorOp) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.ch <- op:
		return true
	case <-ctx.Done():
		w.logger.Warn("mirror change not queued", zap.Error(ctx.Err()))
		return false
	}
}

// worker applies queued changes until the channel is closed.
func (w *WriteBackPolicy) worker() {
	defer w.wg.Done()

	ctx := context.Background()
	for op := range w.ch {
		var err error
		switch op.kind {
		case opPut:
			err = w.mirror.Put(ctx, op.ent)
		case opDelete:
			err = w.mirror.Delete(ctx, op.keys...)
		case opDeletePrefix:
			err = w.mirror.DeletePrefix(ctx, op.prefix)
		case opFlush:
			close(op.done)
		}
		if err != nil {
			w.logger.Warn("mirror change failed", zap.Error(err))
		}
	}
}

/*
Close shuts down the write-back policy gracefully.
 1. No more changes are accepted
 2. The worker drains what is already queued

Without this, pending changes could be lost when the application shuts down.
Close is safe to call more than once.
*/
func (w *WriteBackPolicy) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
}
