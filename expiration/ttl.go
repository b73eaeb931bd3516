// This file decides how long entries live and when they are due for refresh.

package expiration

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/krisalay/tiercache/types"
)

// StaleRatio is the fraction of the TTL after which an entry is stale.
const StaleRatio = 0.8

// Day is a convenience for the default table.
const Day = 24 * time.Hour

// DefaultTTLs is the per-content-type TTL table.
var DefaultTTLs = map[types.ContentType]time.Duration{
	types.ContentTypeContent: Day,
	types.ContentTypeAPI:     5 * time.Minute,
	types.ContentTypeSearch:  10 * time.Minute,
	types.ContentTypeUser:    time.Hour,
	types.ContentTypeStatic:  7 * Day,
	types.ContentTypeImage:   30 * Day,
	types.ContentTypeFont:    365 * Day,
	types.ContentTypeQuiz:    time.Hour,
}

/*
Resolver maps content types to TTLs and answers age questions about entries.

Stale and expired are different things:
- stale:   age > 0.8 * ttl, the entry is still served but is due for refresh
- expired: now > timestamp + ttl, the entry is never served again
*/
type Resolver struct {
	clock clockwork.Clock
	ttls  map[types.ContentType]time.Duration
}

// NewResolver creates a Resolver over DefaultTTLs with overrides applied.
// A nil clock means the wall clock.
func NewResolver(clock clockwork.Clock, overrides map[types.ContentType]time.Duration) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttls := make(map[types.ContentType]time.Duration, len(DefaultTTLs))
	for ct, d := range DefaultTTLs {
		ttls[ct] = d
	}
	for ct, d := range overrides {
		if d > 0 {
			ttls[ct] = d
		}
	}
	return &Resolver{clock: clock, ttls: ttls}
}

// Clock returns the clock the resolver measures age with.
func (r *Resolver) Clock() clockwork.Clock {
	return r.clock
}

// TTLFor returns the TTL of ct. Unknown types get the API default.
func (r *Resolver) TTLFor(ct types.ContentType) time.Duration {
	if d, ok := r.ttls[ct]; ok {
		return d
	}
	return r.ttls[types.ContentTypeAPI]
}

// Age returns how long ago the entry was written or refreshed.
func (r *Resolver) Age(ent *types.CacheEntry) time.Duration {
	return r.clock.Since(ent.Timestamp)
}

// IsExpired reports whether now > timestamp + ttl.
func (r *Resolver) IsExpired(ent *types.CacheEntry) bool {
	return r.clock.Now().After(ent.ExpiresAt())
}

// IsStale reports whether the entry has used up more than StaleRatio of its TTL.
func (r *Resolver) IsStale(ent *types.CacheEntry) bool {
	return float64(r.Age(ent)) > StaleRatio*float64(ent.TTL)
}

// Remaining returns the time left before expiry, never negative.
func (r *Resolver) Remaining(ent *types.CacheEntry) time.Duration {
	d := ent.ExpiresAt().Sub(r.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// ExtendTTL adds d to the entry's existing TTL.
func (r *Resolver) ExtendTTL(ent *types.CacheEntry, d time.Duration) {
	ent.TTL += d
}

// RefreshTTL restarts the entry's life: timestamp becomes now and the TTL
// goes back to its content type's default.
func (r *Resolver) RefreshTTL(ent *types.CacheEntry) {
	ent.Timestamp = r.clock.Now()
	ent.TTL = r.TTLFor(ent.ContentType)
}
