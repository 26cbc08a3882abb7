package expiration

import (
	"time"

	"github.com/krisalay/prerender-cache/types"
)

/*
FixedTTL expires an entry a fixed duration after it was written.
Reads never extend the lifetime: a page rendered six hours ago is stale no matter
how often crawlers asked for it in between.
*/
type FixedTTL struct {

	// TTL is applied to entries written without an explicit expiry.
	TTL time.Duration
}

// IsExpired treats the expiry instant itself as stale.
func (f *FixedTTL) IsExpired(ent *types.CacheEntry, now time.Time) bool {
	return !ent.FreshAt(now)
}

/*
OnWrite stamps CreatedAt and fills in ExpireAt when the writer did not set one.
An explicit expiry from the writer always wins.
*/
func (f *FixedTTL) OnWrite(ent *types.CacheEntry, now time.Time) {
	ent.CreatedAt = now
	if ent.ExpireAt.IsZero() {
		ent.ExpireAt = now.Add(f.TTL)
	}
}
