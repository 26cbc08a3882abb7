package prerender

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/prerender-cache/api"
	"github.com/krisalay/prerender-cache/lock"
	"github.com/krisalay/prerender-cache/store"
	"github.com/krisalay/prerender-cache/types"
)

// maxWaits bounds how many renders by others a single caller waits on.
const maxWaits = 2

// Renderer produces the document for a key. *engine.Pipeline implements it.
type Renderer interface {
	Render(ctx context.Context, key string, rc types.RequestContext) (string, error)
}

// Lifecycle is the resource whose shutdown the coordinator owns. *worker.Manager implements it.
type Lifecycle interface {
	Shutdown(ctx context.Context) error
}

/*
Coordinator is the request-coalescing cache in front of the renderer.
It connects:
- the store (source of truth for rendered pages)
- the lock table (one render per key)
- the renderer
- the render worker lifecycle (shut down on Close)
*/
type Coordinator struct {
	store    *store.Store
	locks    *lock.Table
	renderer Renderer
	workers  Lifecycle

	ttl     time.Duration
	metrics types.Metrics
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Options configures a Coordinator.
type Options struct {

	// TTL is how long a rendered page is served before it is rendered again.
	TTL time.Duration

	// Shards is the store shard count.
	Shards int

	// Workers is shut down by Close. Optional.
	Workers Lifecycle

	Metrics types.Metrics
	Logger  *zap.Logger

	// Clock replaces time.Now in the store.
	Clock func() time.Time
}

const (
	DefaultTTL    = 6 * time.Hour
	DefaultShards = 16
)

var _ api.Coordinator = (*Coordinator)(nil)

func NewCoordinator(renderer Renderer, opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var storeOpts []store.Option
	if opts.Clock != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Clock))
	}

	return &Coordinator{
		store:    store.New(opts.Shards, opts.TTL, storeOpts...),
		locks:    lock.NewTable(),
		renderer: renderer,
		workers:  opts.Workers,
		ttl:      opts.TTL,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

/*
Handle returns the document for key, rendering it at most once at a time.
*/
func (c *Coordinator) Handle(ctx context.Context, key string, rc types.RequestContext) (api.Result, error) {

	// Fast path: fresh entry, no locking at all.
	if ent, ok := c.store.Get(key); ok {
		c.metrics.Hit()
		c.logger.Debug("cache hit", zap.String("key", key))
		return api.Result{Content: ent.Content, Status: api.StatusHit}, nil
	}
	c.metrics.Miss()

	for waits := 0; ; waits++ {
		if waits == maxWaits {
			c.logger.Debug("giving up after waiting on failed renders", zap.String("key", key))
			return api.Result{}, api.ErrNoContent
		}

		h, acquired := c.locks.TryAcquire(key)
		if acquired {
			return c.renderLocked(ctx, key, rc)
		}

		/*
			Someone else is rendering this key. Wait for them, then treat the
			store as the only answer. If their attempt failed we loop and
			compete to start the next one.
		*/
		c.metrics.Coalesced()
		c.logger.Debug("waiting on in-flight render", zap.String("key", key))
		if err := h.Wait(ctx); err != nil {
			return api.Result{}, err
		}
		if ent, ok := c.store.Get(key); ok {
			return api.Result{Content: ent.Content, Status: api.StatusCoalesced}, nil
		}
	}
}

// renderLocked runs one attempt while holding the lock for key.
func (c *Coordinator) renderLocked(ctx context.Context, key string, rc types.RequestContext) (api.Result, error) {
	// Released after the store write so waiters always find the new entry.
	defer c.locks.Release(key)

	// A render may have finished between the miss and the acquire.
	if ent, ok := c.store.Get(key); ok {
		return api.Result{Content: ent.Content, Status: api.StatusCoalesced}, nil
	}

	// The attempt serves every waiter, so the caller hanging up must not abort it.
	// Step deadlines inside the renderer still bound it.
	content, err := c.renderer.Render(context.WithoutCancel(ctx), key, rc)
	c.metrics.Render(err == nil)
	if err != nil {
		return api.Result{}, err
	}

	c.store.Put(key, content, c.ttl)
	return api.Result{Content: content, Status: api.StatusRendered}, nil
}

// InFlight is the number of keys currently being rendered.
func (c *Coordinator) InFlight() int {
	return c.locks.Len()
}

// Close retires the render worker. Only the first call does anything.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.workers != nil {
			c.closeErr = c.workers.Shutdown(ctx)
		}
	})
	return c.closeErr
}
