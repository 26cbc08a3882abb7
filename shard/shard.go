package shard

import "sync"

/*
A Shard is a small, independent piece of the store.
Instead of one big map behind one big lock, keys are spread over many shards:
- Each shard holds some portion of the rendered pages
- Each shard has its own write lock

Writers for different routes rarely contend, and readers never lock at all.
*/
type Shard struct {

	// Store holds the key → entry data for this shard.
	// It is a copy-on-write map that allows lock-free reads.
	Store ShardStore

	// WriteMu serializes writers on this shard. Reads do not take it.
	WriteMu sync.Mutex
}

func NewShard() *Shard {
	return &Shard{Store: NewCOWStore()}
}

// New builds n shards. n < 1 is treated as 1.
func New(n int) []*Shard {
	if n < 1 {
		n = 1
	}
	s := make([]*Shard, n)
	for i := range s {
		s[i] = NewShard()
	}
	return s
}
