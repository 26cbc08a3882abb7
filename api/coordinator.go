package api

import (
	"context"
	"errors"

	"github.com/krisalay/prerender-cache/types"
)

// ErrNoContent is returned to a caller that waited on renders by others and still found nothing fresh.
var ErrNoContent = errors.New("no fresh content available")

// Status tells the dispatch layer how a result was obtained.
type Status int

const (
	// StatusHit means the result came straight from the store.
	StatusHit Status = iota + 1

	// StatusRendered means this caller ran the render itself.
	StatusRendered

	// StatusCoalesced means this caller waited on a render started by another request.
	StatusCoalesced
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusRendered:
		return "render"
	case StatusCoalesced:
		return "wait"
	default:
		return "unknown"
	}
}

// Result is a successfully served document.
type Result struct {
	Content string
	Status  Status
}

/*
Coordinator defines the PUBLIC API of the prerender cache.
The HTTP layer only calls it for requests it decided need rendered content.
Storage, coalescing and the render worker's lifecycle are hidden behind it.
*/
type Coordinator interface {

	/*
		Handle returns the rendered document for key.

		BEHAVIOR:
		-------------------
		1. If a fresh entry exists:
		   - Return it immediately (StatusHit)

		2. If another request is already rendering key:
		   - Wait for it, then read the store again (StatusCoalesced)
		   - If that render failed, the caller competes to start the next one

		3. Otherwise:
		   - Render, store the result with the configured TTL, return it (StatusRendered)

		IMPORTANT:
		----------
		- At most one render per key is ever in flight
		- Render failures are returned as errors and never cached
	*/
	Handle(ctx context.Context, key string, rc types.RequestContext) (Result, error)

	/*
		Close shuts the coordinator down and retires the render worker.
		It waits for in-flight renders until ctx ends.
		Only the first call does anything.
	*/
	Close(ctx context.Context) error
}
