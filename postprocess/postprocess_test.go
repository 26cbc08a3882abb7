package postprocess_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/krisalay/prerender-cache/postprocess"
)

func TestMinifierShrinksDocument(t *testing.T) {
	in := `<!DOCTYPE html>
<html>
  <head>
    <title>  Hello  </title>
    <style>
      body { color : red ; }
    </style>
  </head>
  <body>
    <!-- comment -->
    <p>  hi   there  </p>
  </body>
</html>`

	out, err := postprocess.NewMinifier().Process(in)
	if err != nil {
		t.Fatalf("minify: %v", err)
	}
	if len(out) >= len(in) {
		t.Fatalf("expected smaller output, got %d >= %d", len(out), len(in))
	}
	if strings.Contains(out, "comment") {
		t.Fatalf("expected comments stripped: %s", out)
	}
	if !strings.Contains(out, "<html>") || !strings.Contains(out, "</body>") {
		t.Fatalf("expected document tags kept: %s", out)
	}
}

func TestChainOrderAndFailure(t *testing.T) {
	upper := postprocess.Func(func(s string) (string, error) { return strings.ToUpper(s), nil })
	suffix := postprocess.Func(func(s string) (string, error) { return s + "!", nil })

	out, err := postprocess.Chain{upper, suffix}.Process("ok")
	if err != nil || out != "OK!" {
		t.Fatalf("got %q, %v", out, err)
	}

	boom := errors.New("boom")
	fail := postprocess.Func(func(string) (string, error) { return "", boom })

	out, err = postprocess.Chain{upper, fail, suffix}.Process("ok")
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected no partial output, got %q", out)
	}
}
