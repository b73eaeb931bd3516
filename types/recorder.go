package types

import "time"

// This file defines how the cache reports what it is doing.

/*
Recorder is the set of events the cache layers emit. The storage manager,
the garbage collector and the revalidator call these methods whenever
something happens; the performance tracker is the usual implementation.

Implementations must never block or fail the calling operation.
*/
type Recorder interface {

	// Hit is called when a lookup returned a valid entry.
	Hit(key string, elapsed time.Duration)

	// Miss is called when a lookup found nothing usable.
	Miss(key string, elapsed time.Duration)

	// Eviction is called when the garbage collector removes a live entry to free space.
	Eviction(key string, bytes int64)

	// Expire is called when an expired entry is deleted.
	Expire(key string)

	// Corrupt is called when a structurally invalid entry is found and deleted.
	Corrupt(key string)

	// Refresh is called when a background revalidation finishes.
	Refresh(key string, err error)
}

/*
NoopRecorder is a "do nothing" implementation of Recorder.

We don't want to force every component to be wired to a tracker, and we
don't want nil checks everywhere, so this is the default.
*/
type NoopRecorder struct{}

func (NoopRecorder) Hit(string, time.Duration)  {}
func (NoopRecorder) Miss(string, time.Duration) {}
func (NoopRecorder) Eviction(string, int64)     {}
func (NoopRecorder) Expire(string)              {}
func (NoopRecorder) Corrupt(string)             {}
func (NoopRecorder) Refresh(string, error)      {}
