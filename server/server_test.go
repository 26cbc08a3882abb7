package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/krisalay/prerender-cache/api"
	"github.com/krisalay/prerender-cache/server"
	"github.com/krisalay/prerender-cache/types"
)

type stubCoordinator struct {
	keys []string
	uas  []string
	res  api.Result
	err  error
}

func (s *stubCoordinator) Handle(_ context.Context, key string, rc types.RequestContext) (api.Result, error) {
	s.keys = append(s.keys, key)
	s.uas = append(s.uas, rc.UserAgent)
	return s.res, s.err
}

func (s *stubCoordinator) Close(context.Context) error { return nil }

func newHandler(t *testing.T, coord api.Coordinator, renderAll bool) *server.Handler {
	t.Helper()
	shell := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(shell, []byte("<div id=app></div>"), 0o600); err != nil {
		t.Fatalf("write shell: %v", err)
	}
	return server.NewHandler(coord, server.Options{
		Shell:     shell,
		Bots:      regexp.MustCompile("(?i)Googlebot|Bingbot"),
		RenderAll: renderAll,
		Stats:     &types.Counters{},
	})
}

func do(h http.Handler, method, target, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("User-Agent", ua)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBrowserGetsShell(t *testing.T) {
	coord := &stubCoordinator{}
	h := newHandler(t, coord, false)

	rec := do(h, http.MethodGet, "/blog/1", "Mozilla/5.0 Firefox")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "id=app") {
		t.Fatalf("expected shell, got %d %q", rec.Code, rec.Body.String())
	}
	if len(coord.keys) != 0 {
		t.Fatalf("non-crawler reached the coordinator")
	}
}

func TestCrawlerGetsRenderedPage(t *testing.T) {
	coord := &stubCoordinator{res: api.Result{Content: "<html>rendered</html>", Status: api.StatusHit}}
	h := newHandler(t, coord, false)

	rec := do(h, http.MethodGet, "/blog/1?page=2", "Mozilla/5.0 (compatible; googlebot/2.1)")
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>rendered</html>" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(server.CacheHeader); got != "hit" {
		t.Fatalf("cache header = %q", got)
	}
	if len(coord.keys) != 1 || coord.keys[0] != "/blog/1?page=2" {
		t.Fatalf("expected path+query key, got %v", coord.keys)
	}
	if coord.uas[0] != "Mozilla/5.0 (compatible; googlebot/2.1)" {
		t.Fatalf("crawler identity not forwarded: %q", coord.uas[0])
	}
}

func TestRenderFailureDoesNotLeakDetails(t *testing.T) {
	coord := &stubCoordinator{err: errors.New("net::ERR_NAME_NOT_RESOLVED at internal.host")}
	h := newHandler(t, coord, false)

	rec := do(h, http.MethodGet, "/x", "Bingbot")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "internal.host") {
		t.Fatalf("error detail leaked: %q", rec.Body.String())
	}
}

func TestRenderAll(t *testing.T) {
	coord := &stubCoordinator{res: api.Result{Content: "x", Status: api.StatusRendered}}
	h := newHandler(t, coord, true)

	rec := do(h, http.MethodGet, "/", "curl/8.0")
	if rec.Header().Get(server.CacheHeader) != "render" || len(coord.keys) != 1 {
		t.Fatalf("expected render for any agent in render-all mode")
	}
}

func TestNonGetGoesToShell(t *testing.T) {
	coord := &stubCoordinator{}
	h := newHandler(t, coord, true)

	do(h, http.MethodPost, "/form", "Googlebot")
	if len(coord.keys) != 0 {
		t.Fatalf("POST must not be rendered")
	}
}

func TestHealthz(t *testing.T) {
	h := newHandler(t, &stubCoordinator{}, false)

	rec := do(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestCompressedResponse(t *testing.T) {
	page := "<html><body>" + strings.Repeat("<p>rendered</p>", 200) + "</body></html>"
	coord := &stubCoordinator{res: api.Result{Content: page, Status: api.StatusRendered}}
	h := server.NewHandler(coord, server.Options{
		Bots:     regexp.MustCompile("(?i)Googlebot"),
		Compress: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/long", nil)
	req.Header.Set("User-Agent", "Googlebot")
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q", got)
	}
	if rec.Header().Get(server.CacheHeader) != "render" {
		t.Fatalf("cache header lost under compression")
	}

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != page {
		t.Fatalf("decompressed body differs from rendered page")
	}
}
