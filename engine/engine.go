package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krisalay/prerender-cache/postprocess"
	"github.com/krisalay/prerender-cache/types"
	"github.com/krisalay/prerender-cache/worker"
)

/*
Pipeline runs one render attempt from start to finish.

It is responsible for:
- Borrowing the shared worker for the length of the attempt
- Opening, configuring and ALWAYS closing a fresh session
- Bounding navigation and the readiness wait with independent deadlines
- Running the optional post-processing step

It does NOT:
- Cache anything
- Coalesce concurrent requests
- Decide when the worker is created or retired
*/
type Pipeline struct {
	workers WorkerSource
	resolve Resolver
	cfg     Config
	logger  *zap.Logger
}

// WorkerSource lends out the render worker. *worker.Manager implements it.
type WorkerSource interface {
	Acquire(ctx context.Context) (*worker.Lease, error)
}

// Config holds the immutable per-attempt settings.
type Config struct {
	NavigationTimeout time.Duration
	ReadinessTimeout  time.Duration

	// ReadinessExpression must evaluate to true once the page finished its async work.
	ReadinessExpression string

	// Session is applied to every session; the request's user agent is layered on top.
	Session types.SessionConfig

	// PostProcess is optional.
	PostProcess postprocess.Processor
}

const DefaultReadinessExpression = "window.__PRERENDER_READY__ === true"

func NewPipeline(workers WorkerSource, resolve Resolver, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadinessExpression == "" {
		cfg.ReadinessExpression = DefaultReadinessExpression
	}
	return &Pipeline{
		workers: workers,
		resolve: resolve,
		cfg:     cfg,
		logger:  logger,
	}
}

/*
Render produces the document for key or a *RenderError.

Steps, each short-circuiting:
1. Resolve the key and lease the worker.
2. Open a session and configure it.
3. Navigate under NavigationTimeout.
4. Wait for the readiness expression under ReadinessTimeout.
5. Capture the document.
6. Close the session (always, exactly once).
7. Post-process.

A timeout fails only this attempt; the worker and other attempts are untouched.
*/
func (p *Pipeline) Render(ctx context.Context, key string, rc types.RequestContext) (string, error) {
	log := p.logger.With(zap.String("attempt_id", uuid.NewString()), zap.String("key", key))
	start := time.Now()

	content, err := p.render(ctx, key, rc)
	if err != nil {
		log.Warn("render failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return "", err
	}

	log.Info("render complete",
		zap.Duration("duration", time.Since(start)),
		zap.String("size", humanize.Bytes(uint64(len(content)))))
	return content, nil
}

func (p *Pipeline) render(ctx context.Context, key string, rc types.RequestContext) (string, error) {
	target, err := p.resolve(key)
	if err != nil {
		return "", fail(KindNavigation, key, err)
	}

	lease, err := p.workers.Acquire(ctx)
	if err != nil {
		return "", fail(KindWorkerCreation, key, err)
	}
	defer lease.Release()

	content, err := p.capture(ctx, lease, key, target, rc)
	// The worker is no longer needed; let the recycler see it idle.
	lease.Release()
	if err != nil {
		return "", err
	}

	if p.cfg.PostProcess != nil {
		if content, err = p.cfg.PostProcess.Process(content); err != nil {
			return "", fail(KindPostProcess, key, err)
		}
	}
	return content, nil
}

func (p *Pipeline) capture(ctx context.Context, w types.Worker, key, target string, rc types.RequestContext) (string, error) {
	sess, err := w.NewSession(ctx)
	if err != nil {
		return "", fail(KindSession, key, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Debug("session close failed", zap.String("key", key), zap.Error(err))
		}
	}()

	cfg := p.cfg.Session
	if rc.UserAgent != "" {
		cfg.UserAgent = rc.UserAgent
	}
	if err := sess.Configure(ctx, cfg); err != nil {
		return "", fail(KindSession, key, err)
	}

	if err := step(ctx, p.cfg.NavigationTimeout, func(ctx context.Context) error {
		return sess.Navigate(ctx, target)
	}); err != nil {
		return "", fail(timeoutKind(err, KindNavigationTimeout, KindNavigation), key, err)
	}

	if err := step(ctx, p.cfg.ReadinessTimeout, func(ctx context.Context) error {
		return sess.WaitReady(ctx, p.cfg.ReadinessExpression)
	}); err != nil {
		return "", fail(timeoutKind(err, KindReadinessTimeout, KindReadiness), key, err)
	}

	content, err := sess.Content(ctx)
	if err != nil {
		return "", fail(KindExtraction, key, err)
	}
	return content, nil
}

// step runs fn under its own deadline. d <= 0 means no step deadline.
func step(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		err = errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

func timeoutKind(err error, timeout, other Kind) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeout
	}
	return other
}
