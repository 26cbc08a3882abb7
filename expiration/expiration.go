// Package expiration decides when a rendered page stops being servable.
package expiration

import (
	"time"

	"github.com/krisalay/prerender-cache/types"
)

/*
Strategy stamps lifetimes on entries as the store writes them and answers
freshness checks on read. The store never deletes anything itself: an expired
entry simply reads as absent until the next render overwrites it.
*/
type Strategy interface {

	// IsExpired reports whether ent must be treated as absent at now.
	IsExpired(ent *types.CacheEntry, now time.Time) bool

	// OnWrite runs before ent is published to readers.
	OnWrite(ent *types.CacheEntry, now time.Time)
}
