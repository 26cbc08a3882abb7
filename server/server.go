// Package server is the HTTP front of the prerender cache.
//
// Crawlers get rendered documents from the coordinator; everyone else gets the
// static single-page-app shell and never touches the renderer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/krisalay/prerender-cache/api"
	"github.com/krisalay/prerender-cache/types"
)

// CacheHeader reports how a rendered response was produced: hit, render or wait.
const CacheHeader = "X-Prerender-Cache"

// Options configures a Handler.
type Options struct {

	// Shell is the SPA index served to non-crawlers.
	Shell string

	// Bots classifies crawler user agents. Nil with RenderAll false renders nothing.
	Bots *regexp.Regexp

	// RenderAll renders every request regardless of user agent.
	RenderAll bool

	// Compress gzips responses for clients that accept it.
	Compress bool

	// Stats backs /healthz. Optional.
	Stats *types.Counters

	Logger *zap.Logger
}

// Handler dispatches requests between the coordinator and the static shell.
type Handler struct {
	coord api.Coordinator
	opts  Options
	mux   *http.ServeMux
	root  http.Handler
}

func NewHandler(coord api.Coordinator, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Handler{coord: coord, opts: opts, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /healthz", h.health)
	h.mux.HandleFunc("/", h.dispatch)

	h.root = h.mux
	if opts.Compress {
		h.root = gzhttp.GzipHandler(h.mux)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// IsCrawler reports whether the request should be rendered.
func (h *Handler) IsCrawler(r *http.Request) bool {
	if h.opts.RenderAll {
		return true
	}
	return h.opts.Bots != nil && h.opts.Bots.MatchString(r.UserAgent())
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if (r.Method != http.MethodGet && r.Method != http.MethodHead) || !h.IsCrawler(r) {
		http.ServeFile(w, r, h.opts.Shell)
		return
	}

	key := r.URL.RequestURI()
	res, err := h.coord.Handle(r.Context(), key, types.RequestContext{UserAgent: r.UserAgent()})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Crawler went away; nobody to answer.
			return
		}
		h.opts.Logger.Error("render failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "Render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(CacheHeader, res.Status.String())
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(res.Content))
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	var snap types.Snapshot
	if h.opts.Stats != nil {
		snap = h.opts.Stats.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// NewHTTPServer wraps h with the timeouts a crawler-facing server needs.
// WriteTimeout leaves room for a full cold render.
func NewHTTPServer(addr string, h http.Handler, renderBudget time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      renderBudget + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
