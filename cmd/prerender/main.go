package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	prerender "github.com/krisalay/prerender-cache"
	"github.com/krisalay/prerender-cache/browser"
	"github.com/krisalay/prerender-cache/config"
	"github.com/krisalay/prerender-cache/engine"
	"github.com/krisalay/prerender-cache/logging"
	"github.com/krisalay/prerender-cache/postprocess"
	"github.com/krisalay/prerender-cache/server"
	"github.com/krisalay/prerender-cache/types"
	"github.com/krisalay/prerender-cache/worker"
)

// shutdownGrace bounds how long in-flight renders may finish after a signal.
const shutdownGrace = 30 * time.Second

var (
	configFile string
	v          = config.NewViper()

	rootCmd = &cobra.Command{
		Use:          "prerender",
		Short:        "Serve pre-rendered pages to crawlers and the SPA shell to everyone else",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml)")

	f := rootCmd.Flags()
	f.String("listen", ":29953", "address to listen on")
	f.String("upstream", "", "origin that pages are rendered from")
	f.String("shell", "", "SPA index.html served to non-crawlers")
	f.Bool("render-all", false, "render every request, not only crawlers")
	f.Duration("ttl", 0, "how long a rendered page is cached")
	f.Duration("recycle-interval", 0, "how often an idle browser is restarted (0 disables)")
	f.Bool("compress", true, "gzip responses for clients that accept it")
	f.String("chrome", "", "path to the Chrome executable")
	f.String("log-level", "", "debug, info, warn or error")

	_ = v.BindPFlag("listen", f.Lookup("listen"))
	_ = v.BindPFlag("upstream", f.Lookup("upstream"))
	_ = v.BindPFlag("shell", f.Lookup("shell"))
	_ = v.BindPFlag("render_all", f.Lookup("render-all"))
	_ = v.BindPFlag("cache.ttl", f.Lookup("ttl"))
	_ = v.BindPFlag("worker.recycle_interval", f.Lookup("recycle-interval"))
	_ = v.BindPFlag("compress", f.Lookup("compress"))
	_ = v.BindPFlag("worker.exec_path", f.Lookup("chrome"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	resolve, err := cfg.Resolver()
	if err != nil {
		return err
	}
	bots, err := cfg.BotPattern()
	if err != nil {
		return err
	}

	stats := &types.Counters{}

	workers := worker.NewManager(&browser.Launcher{
		ExecPath: cfg.Worker.ExecPath,
		Flags:    cfg.Worker.Flags,
	}, worker.Options{
		RecycleInterval: cfg.Worker.RecycleInterval,
		LaunchInterval:  cfg.Worker.LaunchInterval,
		Metrics:         stats,
		Logger:          logger.Named("worker"),
	})

	var post postprocess.Processor
	if cfg.Render.Minify {
		post = postprocess.NewMinifier()
	}

	pipeline := engine.NewPipeline(workers, resolve, engine.Config{
		NavigationTimeout:   cfg.Render.NavigationTimeout,
		ReadinessTimeout:    cfg.Render.ReadinessTimeout,
		ReadinessExpression: cfg.Render.ReadinessExpression,
		Session: types.SessionConfig{
			Headers:        cfg.Session.Headers,
			BlockResources: cfg.Session.BlockResources,
		},
		PostProcess: post,
	}, logger.Named("render"))

	coord := prerender.NewCoordinator(pipeline, prerender.Options{
		TTL:     cfg.Cache.TTL,
		Shards:  cfg.Cache.Shards,
		Workers: workers,
		Metrics: stats,
		Logger:  logger.Named("cache"),
	})

	handler := server.NewHandler(coord, server.Options{
		Shell:     cfg.Shell,
		Bots:      bots,
		RenderAll: cfg.RenderAll,
		Compress:  cfg.Compress,
		Stats:     stats,
		Logger:    logger.Named("http"),
	})
	srv := server.NewHTTPServer(cfg.Listen, handler, cfg.Render.NavigationTimeout+cfg.Render.ReadinessTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("prerender listening",
			zap.String("addr", cfg.Listen),
			zap.String("upstream", cfg.Upstream),
			zap.Duration("ttl", cfg.Cache.TTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		httpErr := srv.Shutdown(shutdownCtx)
		closeErr := coord.Close(shutdownCtx)
		return errors.Join(httpErr, closeErr)
	})

	return g.Wait()
}
