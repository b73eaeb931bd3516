package writepolicy

import (
	"context"

	"github.com/krisalay/tiercache/types"
)

/*
This file defines what a "write policy" is.

Entries whose keys are HTTP-cacheable live in two places: the primary store
and a response store that mirrors it. A write policy decides how changes
reach the mirror:
- write-through: synchronously, before the cache write returns
- write-back: queued and applied by a background worker

The storage manager does not care which policy is used. It simply calls
these methods.
*/

// Mirror is the secondary store a policy propagates changes to.
type Mirror interface {
	Put(ctx context.Context, ent *types.CacheEntry) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

/*
WritePolicy is the contract that all write policies must follow.

Mirror failures never fail the primary operation; policies log them.
*/
type WritePolicy interface {

	// OnWrite is called after an entry was written to the primary store.
	OnWrite(ctx context.Context, ent *types.CacheEntry)

	// OnDelete is called after keys were removed from the primary store.
	OnDelete(ctx context.Context, keys ...string)

	// OnDeletePrefix is called after a prefix was removed from the primary store.
	OnDeletePrefix(ctx context.Context, prefix string)

	// Flush returns once every change handed to the policy so far has been applied.
	Flush(ctx context.Context) error

	// Close is called when the cache is shutting down.
	Close()
}
