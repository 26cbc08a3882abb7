// Package browser runs renders in headless Chrome through the DevTools protocol.
//
// A Browser is one Chrome process (the render worker); a Tab is one target
// inside it (the render session). Tabs are cheap and many may be open at once.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/krisalay/prerender-cache/types"
)

// DefaultFlags are the Chrome switches needed to run inside containers.
var DefaultFlags = []string{
	"no-sandbox",
	"disable-gpu",
	"disable-dev-shm-usage",
}

// Launcher starts Chrome processes.
type Launcher struct {

	// ExecPath is the Chrome binary. Empty lets chromedp find one.
	ExecPath string

	// Flags are extra switches, without leading dashes. DefaultFlags are always applied.
	Flags []string

	// Headful shows the browser window. Only useful while debugging.
	Headful bool
}

var _ types.Launcher = (*Launcher)(nil)

/*
Launch starts Chrome and waits until the first target is attached.

ctx bounds the lifetime of the process: once it is cancelled Chrome is killed.
*/
func (l *Launcher) Launch(ctx context.Context) (types.Worker, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range append(append([]string{}, DefaultFlags...), l.Flags...) {
		opts = append(opts, chromedp.Flag(f, true))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	if l.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running with no actions starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &Browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}, nil
}

// Browser is a running Chrome process.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewSession opens a new tab.
//
// The first Run on a chromedp context creates its target and ties the target
// to that exact context, so it must not run on a caller-bounded child.
func (b *Browser) NewSession(ctx context.Context) (types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Tab{ctx: tabCtx, cancel: cancel}, nil
}

// Close shuts Chrome down gracefully, then kills whatever is left.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}
