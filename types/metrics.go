package types

import "sync/atomic"

// This file defines how the coordinator reports what it is doing.

/*
Metrics is an interface that defines what the coordinator wants to measure.
Each method represents an event in the request or worker lifecycle.
*/
type Metrics interface {

	// Hit is called when a fresh entry is served straight from the store.
	Hit()

	// Miss is called when no fresh entry exists and the caller has to render or wait.
	Miss()

	// Coalesced is called when a caller waits on a render started by someone else.
	Coalesced()

	// Render is called when a render attempt finishes. ok is false on failure.
	Render(ok bool)

	// WorkerLaunched is called after a new render worker is ready.
	WorkerLaunched()

	// WorkerRetired is called after the worker is torn down (recycled or shut down).
	WorkerRetired()
}

/*
NoopMetrics is a "do nothing" implementation of Metrics.

It keeps nil checks out of the hot path for callers that do not care about metrics.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) Miss()           {}
func (NoopMetrics) Coalesced()      {}
func (NoopMetrics) Render(bool)     {}
func (NoopMetrics) WorkerLaunched() {}
func (NoopMetrics) WorkerRetired()  {}

// Counters is a lock-free Metrics implementation backed by atomic counters.
type Counters struct {
	hits           atomic.Int64
	misses         atomic.Int64
	coalesced      atomic.Int64
	renders        atomic.Int64
	renderFailures atomic.Int64
	launches       atomic.Int64
	retirements    atomic.Int64
}

func (c *Counters) Hit()       { c.hits.Add(1) }
func (c *Counters) Miss()      { c.misses.Add(1) }
func (c *Counters) Coalesced() { c.coalesced.Add(1) }

func (c *Counters) Render(ok bool) {
	c.renders.Add(1)
	if !ok {
		c.renderFailures.Add(1)
	}
}

func (c *Counters) WorkerLaunched() { c.launches.Add(1) }
func (c *Counters) WorkerRetired()  { c.retirements.Add(1) }

// Snapshot is a point-in-time copy of Counters, safe to serialize.
type Snapshot struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Coalesced      int64 `json:"coalesced"`
	Renders        int64 `json:"renders"`
	RenderFailures int64 `json:"render_failures"`
	Launches       int64 `json:"worker_launches"`
	Retirements    int64 `json:"worker_retirements"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Coalesced:      c.coalesced.Load(),
		Renders:        c.renders.Load(),
		RenderFailures: c.renderFailures.Load(),
		Launches:       c.launches.Load(),
		Retirements:    c.retirements.Load(),
	}
}
