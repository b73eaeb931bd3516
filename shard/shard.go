package shard

import "sync"

/*
This file defines what a "Shard" is. A shard is a small, independent piece of
the in-memory tier. Instead of one big map behind one big lock, entries are
split across shards. Each shard:
- Holds some portion of the entries
- Has its own lock for writes

Reads never lock; they see the shard's current copy-on-write snapshot.
*/

type Shard struct {

	// Store holds the key → entry data for this shard.
	Store ShardStore

	// Mu serializes writers of this shard. Reads are lock-free.
	Mu sync.Mutex
}

func NewShard() *Shard {
	return &Shard{Store: NewCOWStore()}
}

// Set is a group of shards addressed through a Selector.
type Set struct {
	shards   []*Shard
	selector Selector
}

// NewSet creates n shards (at least one) using the FNV selector.
func NewSet(n int) *Set {
	if n < 1 {
		n = 1
	}
	s := make([]*Shard, n)
	for i := range s {
		s[i] = NewShard()
	}
	return &Set{shards: s, selector: &HashSelector{}}
}

// For returns the shard responsible for key.
func (s *Set) For(key string) *Shard {
	return s.selector.Select(key, s.shards)
}

// All returns every shard.
func (s *Set) All() []*Shard {
	return s.shards
}
