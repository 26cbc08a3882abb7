package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/krisalay/prerender-cache/types"
)

const pollInterval = 100 * time.Millisecond

// Tab is one Chrome target used for a single render.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

/*
Configure applies the session settings.

- UserAgent overrides the browser identity so the upstream sees the crawler.
- Headers are attached to every request the page makes.
- BlockResources aborts matching resource types (image, media, font, ...)
  through request interception; everything else continues untouched.
*/
func (t *Tab) Configure(ctx context.Context, cfg types.SessionConfig) error {
	var actions []chromedp.Action

	if cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(cfg.UserAgent))
	}
	if len(cfg.Headers) > 0 {
		headers := make(network.Headers, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	if len(cfg.BlockResources) > 0 {
		t.intercept(cfg.BlockResources)
		actions = append(actions, fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}))
	}
	if len(actions) == 0 {
		return nil
	}

	return t.run(ctx, actions...)
}

func (t *Tab) intercept(blocked []string) {
	chromedp.ListenTarget(t.ctx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Listeners must not block the event loop.
		go func() {
			c := chromedp.FromContext(t.ctx)
			if c == nil || c.Target == nil {
				return
			}
			ctx := cdp.WithExecutor(t.ctx, c.Target)

			if isBlocked(paused.ResourceType, blocked) {
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
				return
			}
			_ = fetch.ContinueRequest(paused.RequestID).Do(ctx)
		}()
	})
}

func isBlocked(rt network.ResourceType, blocked []string) bool {
	for _, b := range blocked {
		if strings.EqualFold(string(rt), b) {
			return true
		}
	}
	return false
}

// Navigate loads url and returns after the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

// WaitReady polls expression until it is truthy or ctx ends.
func (t *Tab) WaitReady(ctx context.Context, expression string) error {
	var ready bool
	return t.run(ctx, chromedp.Poll(expression, &ready, chromedp.WithPollingInterval(pollInterval)))
}

// Content serializes the live DOM.
func (t *Tab) Content(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return "<!DOCTYPE html>\n" + html, nil
}

// Close closes the target.
func (t *Tab) Close() error {
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	return err
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, stop := bind(t.ctx, ctx)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the caller's deadline rather than chromedp's wrapping of it.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return err
	}
	return nil
}

/*
bind derives a context from a chromedp target context that also ends when
caller ends. chromedp actions must run on a descendant of the target context;
cancelling such a descendant aborts the action without closing the target.
*/
func bind(target, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(target)
	if dl, ok := caller.Deadline(); ok {
		var cancelDl context.CancelFunc
		ctx, cancelDl = context.WithDeadline(ctx, dl)
		prev := cancel
		cancel = func(err error) { cancelDl(); prev(err) }
	}
	stop := context.AfterFunc(caller, func() { cancel(context.Cause(caller)) })

	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
