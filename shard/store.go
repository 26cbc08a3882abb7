package shard

import (
	"sync/atomic"

	"github.com/krisalay/prerender-cache/types"
)

/*
This file defines how entries are actually stored inside a shard.
Rendered pages are read on every crawler hit and written once per TTL window,
so reads must be cheap and lock-free while writes can afford a copy.
*/

// ShardStore is the interface used by a shard to store and retrieve entries.
type ShardStore interface {
	Get(string) (*types.CacheEntry, bool)

	// Put inserts or replaces an entry. Callers serialize Put through Shard.WriteMu.
	Put(string, *types.CacheEntry)

	Len() int
}

/*
cowStore is a copy-on-write ShardStore.

- Readers load an immutable map snapshot
- Writers build a new map and publish it atomically

There is no Delete: expired entries stay until the next successful render of the
same key replaces them.
*/
type cowStore struct {
	data atomic.Pointer[map[string]*types.CacheEntry]
}

func NewCOWStore() ShardStore {
	s := &cowStore{}
	m := make(map[string]*types.CacheEntry)
	s.data.Store(&m)
	return s
}

func (s *cowStore) Get(key string) (*types.CacheEntry, bool) {
	ent, ok := (*s.data.Load())[key]
	return ent, ok
}

func (s *cowStore) Put(key string, ent *types.CacheEntry) {
	old := *s.data.Load()

	n := make(map[string]*types.CacheEntry, len(old)+1)
	for k, v := range old {
		n[k] = v
	}
	n[key] = ent

	s.data.Store(&n)
}

func (s *cowStore) Len() int {
	return len(*s.data.Load())
}
