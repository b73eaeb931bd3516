package types

import (
	"errors"
	"fmt"
)

// ErrNoCachedData is returned by cache-only reads that find nothing.
var ErrNoCachedData = errors.New("no cached data")

// ErrQuotaExceeded is matched by QuotaExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrCorruptEntry marks a stored record that cannot be decoded.
var ErrCorruptEntry = errors.New("cache entry is corrupted")

// ErrStorageUnavailable is returned when no structured store could be opened.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrUnknownStrategy is returned for a strategy kind with no implementation.
var ErrUnknownStrategy = errors.New("unknown cache strategy")

// QuotaExceededError is surfaced when a write cannot be accommodated even
// after quota enforcement.
type QuotaExceededError struct {
	Key       string
	Requested int64
	Available int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded writing %q: need %d bytes, %d available",
		e.Key, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrQuotaExceeded) true.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
