// Package worker owns the lifecycle of the singleton render worker.
//
// The worker is created lazily on first demand, shared by every render, retired
// by a background recycler when nothing is using it, and retired for good on
// Shutdown. The only hazard that matters here is retiring a worker while a render
// still holds it; every identity change happens under mu together with the
// active-lease count.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/krisalay/prerender-cache/types"
)

// ErrClosed is returned by Acquire after Shutdown has started.
var ErrClosed = errors.New("worker manager is closed")

// launchKey is the single identity launches are coalesced on.
const launchKey = "render-worker"

// Options configures a Manager.
type Options struct {

	// RecycleInterval is how often the recycler checks for an idle worker.
	// Zero disables recycling.
	RecycleInterval time.Duration

	// LaunchInterval is the minimum spacing between browser launches, so a
	// worker that crashes on start is not relaunched in a tight loop.
	// Zero disables pacing.
	LaunchInterval time.Duration

	Metrics types.Metrics
	Logger  *zap.Logger
}

// Manager lends out the shared render worker.
type Manager struct {
	launcher types.Launcher
	metrics  types.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	current types.Worker
	active  int
	closed  bool

	// sf makes every caller arriving during a launch share it.
	sf singleflight.Group

	// limiter paces launches. Nil when unpaced.
	limiter *rate.Limiter

	// Goroutine ownership. ctx also bounds the lifetime of launched workers.
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	recycleEvery time.Duration
	shutdownOnce sync.Once
}

// NewManager creates a manager and starts the recycler when an interval is set.
// No worker is launched until the first Acquire.
func NewManager(launcher types.Launcher, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		launcher:     launcher,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
		recycleEvery: opts.RecycleInterval,
	}
	if opts.LaunchInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(opts.LaunchInterval), 1)
	}

	if m.recycleEvery > 0 {
		m.wg.Add(1)
		go m.recycleLoop()
	}
	return m
}

/*
Acquire returns a lease on a ready worker, launching one if none exists.

BEHAVIOR:
---------
- A live worker is leased immediately and the active count goes up.
- With no worker, the caller joins the single in-progress launch (or starts it).
- A failed launch is returned to every caller that shared it; the manager stays
  empty and the next Acquire starts over.
- ctx only bounds how long THIS caller waits. The launch itself runs on the
  manager's own context so one impatient caller cannot kill it for the rest.

The lease MUST be released.
*/
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if w := m.current; w != nil {
			m.active++
			m.mu.Unlock()
			return &Lease{Worker: w, m: m}, nil
		}
		m.mu.Unlock()

		ch := m.sf.DoChan(launchKey, func() (any, error) {
			return nil, m.launch()
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The fresh worker may already have been recycled; go round again.
	}
}

func (m *Manager) launch() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.current != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.limiter != nil {
		if err := m.limiter.Wait(m.ctx); err != nil {
			return ErrClosed
		}
	}

	start := time.Now()
	w, err := m.launcher.Launch(m.ctx)
	if err != nil {
		m.logger.Warn("render worker launch failed", zap.Error(err))
		return fmt.Errorf("launch render worker: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.teardown(w, "shutdown")
		return ErrClosed
	}
	m.current = w
	m.mu.Unlock()

	m.metrics.WorkerLaunched()
	m.logger.Info("render worker launched", zap.Duration("startup", time.Since(start)))
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

// Active is the number of outstanding leases.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Running reports whether a worker currently exists.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

/*
Recycle retires the worker if one exists and no lease is outstanding.
It reports whether a worker was retired. The recycler loop calls it on every tick.

Teardown failures are logged; the reference is dropped regardless so the next
Acquire launches a fresh worker.
*/
func (m *Manager) Recycle() bool {
	m.mu.Lock()
	w := m.current
	if w == nil || m.active > 0 || m.closed {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.mu.Unlock()

	m.teardown(w, "recycle")
	return true
}

func (m *Manager) teardown(w types.Worker, reason string) {
	if err := w.Close(); err != nil {
		m.logger.Warn("render worker teardown failed", zap.String("reason", reason), zap.Error(err))
	} else {
		m.logger.Info("render worker retired", zap.String("reason", reason))
	}
	m.metrics.WorkerRetired()
}

/*
Shutdown retires the worker for good.

1. Refuse new leases and stop the recycler.
2. Wait for outstanding leases to drain, or for ctx to end.
3. Retire the worker if one exists.

Only the first call does anything; later calls return nil.
*/
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		err = m.drain(ctx)

		// Cancelling after the drain keeps in-flight renders on a live worker.
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		w := m.current
		m.current = nil
		m.mu.Unlock()

		if w != nil {
			m.teardown(w, "shutdown")
		}
	})
	return err
}

func (m *Manager) drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			m.logger.Warn("shutting down with renders in flight", zap.Int("active", m.Active()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Lease is one render's borrowed reference to the worker.
// It must not be used after Release.
type Lease struct {
	types.Worker

	m    *Manager
	once sync.Once
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(l.m.release)
}
