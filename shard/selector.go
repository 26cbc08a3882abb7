package shard

import "github.com/cespare/xxhash/v2"

/*
This file decides HOW a route is assigned to a shard.
Routes of one site share long prefixes ("/blog/2024/..."), so the hash must mix
the whole key well or a handful of shards end up holding everything.
*/

// Selector decides which shard should handle a given key.
type Selector interface {
	Select(string, []*Shard) *Shard
}

// HashSelector picks a shard by xxhash of the key modulo the shard count.
type HashSelector struct{}

func (HashSelector) Select(key string, shards []*Shard) *Shard {
	return shards[xxhash.Sum64String(key)%uint64(len(shards))]
}
