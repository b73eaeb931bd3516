package eviction

/*
This file defines how the cache decides which entries matter most when it
runs out of space.

Every entry carries one of three weights. The garbage collector removes low
before medium and medium before high; inside one weight the oldest goes
first.
*/

import (
	"slices"

	"github.com/krisalay/tiercache/types"
)

// DefaultPriorities mirrors the TTL table: what is expensive or personal to
// refetch is high, cheap static data is low.
var DefaultPriorities = map[types.ContentType]types.Priority{
	types.ContentTypeContent: types.PriorityHigh,
	types.ContentTypeUser:    types.PriorityHigh,
	types.ContentTypeAPI:     types.PriorityMedium,
	types.ContentTypeQuiz:    types.PriorityMedium,
	types.ContentTypeSearch:  types.PriorityLow,
	types.ContentTypeStatic:  types.PriorityLow,
	types.ContentTypeImage:   types.PriorityLow,
	types.ContentTypeFont:    types.PriorityLow,
}

// Weight returns the numeric weight of p (high=3, medium=2, low=1).
func Weight(p types.Priority) int {
	return int(p)
}

// PriorityFor returns the default priority of ct. Unknown types are medium.
func PriorityFor(ct types.ContentType) types.Priority {
	if p, ok := DefaultPriorities[ct]; ok {
		return p
	}
	return types.PriorityMedium
}

// IsHigherPriority reports whether a outranks b.
func IsHigherPriority(a, b types.Priority) bool {
	return Weight(a) > Weight(b)
}

// ComparePriorities returns -1, 0 or 1 as a is lower than, equal to or
// higher than b.
func ComparePriorities(a, b types.Priority) int {
	switch wa, wb := Weight(a), Weight(b); {
	case wa < wb:
		return -1
	case wa > wb:
		return 1
	default:
		return 0
	}
}

// RemovalOrder lists priorities in the order the collector drains them.
var RemovalOrder = drainOrder([]types.Priority{types.PriorityHigh, types.PriorityMedium, types.PriorityLow})

// drainOrder sorts ps in place, lowest priority first.
func drainOrder(ps []types.Priority) []types.Priority {
	slices.SortStableFunc(ps, ComparePriorities)
	return ps
}
