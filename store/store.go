// Package store holds rendered pages with an absolute expiry.
//
// It is a pure in-memory structure with no I/O and no error paths. Expired
// entries are never purged; they are inert until the next successful render
// of the same key overwrites them, so memory is bounded by the number of
// distinct routes ever rendered.
package store

import (
	"time"

	"github.com/krisalay/prerender-cache/expiration"
	"github.com/krisalay/prerender-cache/shard"
	"github.com/krisalay/prerender-cache/types"
)

// Store is a sharded key → CacheEntry map with lazy expiry.
type Store struct {
	shards     []*shard.Shard
	selector   shard.Selector
	expiration expiration.Strategy
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Tests use it to step across expiry boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithExpiration replaces the default FixedTTL strategy.
func WithExpiration(exp expiration.Strategy) Option {
	return func(s *Store) { s.expiration = exp }
}

// New creates a store with the given shard count. defaultTTL applies to Put calls with ttl <= 0.
func New(shards int, defaultTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		shards:     shard.New(shards),
		selector:   shard.HashSelector{},
		expiration: &expiration.FixedTTL{TTL: defaultTTL},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
Get returns the entry for key if it is still fresh.

A never-stored key and an expired key look the same to the caller: both return false.
The expired entry is left in place.
*/
func (s *Store) Get(key string) (*types.CacheEntry, bool) {
	sh := s.selector.Select(key, s.shards)

	ent, ok := sh.Store.Get(key)
	if !ok || s.expiration.IsExpired(ent, s.now()) {
		return nil, false
	}
	return ent, true
}

/*
Put stores content for key, replacing whatever was there.

The new entry expires at now+ttl. A ttl <= 0 falls back to the store default.
Put always publishes a brand new entry; readers holding the previous one keep a
consistent view of it.
*/
func (s *Store) Put(key, content string, ttl time.Duration) *types.CacheEntry {
	sh := s.selector.Select(key, s.shards)

	now := s.now()
	ent := &types.CacheEntry{
		Key:     key,
		Content: content,
	}
	if ttl > 0 {
		ent.ExpireAt = now.Add(ttl)
	}
	s.expiration.OnWrite(ent, now)

	sh.WriteMu.Lock()
	sh.Store.Put(key, ent)
	sh.WriteMu.Unlock()

	return ent
}

// Len counts stored entries, expired ones included.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Store.Len()
	}
	return n
}
