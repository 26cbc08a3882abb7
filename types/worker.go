package types

import "context"

// This file defines the contract between the coordinator and the heavyweight render resource.

/*
RequestContext carries what the inbound request knows about the caller.
The core never interprets it; it is passed through to the session configuration.
*/
type RequestContext struct {

	// UserAgent of the crawler that triggered the render. Empty means "leave the browser default".
	UserAgent string
}

/*
SessionConfig is applied to every session before navigation.

It is supplied by configuration (headers, blocked resource types) and merged
with the per-request identity (user agent). The core does not inspect it.
*/
type SessionConfig struct {
	UserAgent string

	// Headers are extra HTTP headers sent with every request the session makes.
	Headers map[string]string

	// BlockResources lists resource types (image, media, font, ...) the session must abort.
	BlockResources []string
}

/*
Launcher creates the singleton render worker.

Launch may block for the whole startup of the worker (seconds for a browser).
The context passed in bounds the LIFETIME of the worker, not just its startup:
cancelling it tears the worker down.
*/
type Launcher interface {
	Launch(ctx context.Context) (Worker, error)
}

/*
Worker is the long-lived render resource (a browser process).

Many sessions may be opened on one worker concurrently.
Close tears the worker down; it is called exactly once by the resource manager.
*/
type Worker interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

/*
Session is a per-attempt working context (a browser tab).

Every method honours the context deadline it is given. The caller always calls
Close exactly once, on success and on failure.
*/
type Session interface {

	// Configure applies headers, identity and resource blocking before navigation.
	Configure(ctx context.Context, cfg SessionConfig) error

	// Navigate loads url and returns once the initial document has loaded.
	Navigate(ctx context.Context, url string) error

	// WaitReady blocks until expression evaluates to true inside the loaded page.
	WaitReady(ctx context.Context, expression string) error

	// Content returns the serialized document.
	Content(ctx context.Context) (string, error)

	Close() error
}
