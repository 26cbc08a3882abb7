package types

import "time"

// CacheEntry is one rendered page held by the store.
// Entries are replaced wholesale on every successful render and never mutated afterwards.
type CacheEntry struct {
	Key       string
	Content   string
	CreatedAt time.Time
	ExpireAt  time.Time
}

// FreshAt reports whether the entry may still be served at now.
func (e *CacheEntry) FreshAt(now time.Time) bool {
	return now.Before(e.ExpireAt)
}
