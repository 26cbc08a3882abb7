// Package fakeworker provides an in-memory render worker for tests and load runs.
//
// Every page behaviour (latency, failures, a page that never becomes ready) is
// scripted through Page, and every lifecycle event is counted so tests can
// assert exact numbers of launches, sessions and closes.
package fakeworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krisalay/prerender-cache/types"
)

// Page scripts how sessions behave.
type Page struct {
	NavigateDelay time.Duration
	ReadyDelay    time.Duration

	// NeverReady makes WaitReady block until its context ends.
	NeverReady bool

	NavigateErr  error
	ConfigureErr error
	ReadyErr     error
	ContentErr   error

	// Render builds the captured document from the navigated URL.
	// Nil renders "<html><body>{url}</body></html>".
	Render func(url string) string
}

// Launcher launches fake workers.
type Launcher struct {
	Page        Page
	LaunchDelay time.Duration
	LaunchErr   error
	CloseErr    error

	launches atomic.Int32

	mu      sync.Mutex
	workers []*Worker
}

func (l *Launcher) Launch(ctx context.Context) (types.Worker, error) {
	l.launches.Add(1)

	if err := sleep(ctx, l.LaunchDelay); err != nil {
		return nil, err
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}

	w := &Worker{page: l.Page, closeErr: l.CloseErr}
	l.mu.Lock()
	l.workers = append(l.workers, w)
	l.mu.Unlock()
	return w, nil
}

// Launches counts Launch calls, failed ones included.
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Workers returns every worker launched so far, oldest first.
func (l *Launcher) Workers() []*Worker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Worker(nil), l.workers...)
}

// Worker is a fake render worker.
type Worker struct {
	page     Page
	closeErr error

	closes atomic.Int32
	active atomic.Int32

	mu       sync.Mutex
	sessions []*Session
}

// ErrWorkerClosed is returned by NewSession on a closed worker.
var ErrWorkerClosed = errors.New("fake worker closed")

func (w *Worker) NewSession(ctx context.Context) (types.Session, error) {
	if w.Closed() {
		return nil, ErrWorkerClosed
	}
	s := &Session{w: w, page: w.page}
	w.active.Add(1)

	w.mu.Lock()
	w.sessions = append(w.sessions, s)
	w.mu.Unlock()
	return s, nil
}

func (w *Worker) Close() error {
	w.closes.Add(1)
	return w.closeErr
}

// Closed reports whether Close was called at least once.
func (w *Worker) Closed() bool { return w.closes.Load() > 0 }

// Closes counts Close calls.
func (w *Worker) Closes() int { return int(w.closes.Load()) }

// OpenSessions counts sessions created but not yet closed.
func (w *Worker) OpenSessions() int { return int(w.active.Load()) }

// Sessions returns every session opened on this worker.
func (w *Worker) Sessions() []*Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Session(nil), w.sessions...)
}

// Session is a fake tab.
type Session struct {
	w    *Worker
	page Page

	mu         sync.Mutex
	url        string
	configured types.SessionConfig

	closes atomic.Int32
}

func (s *Session) Configure(ctx context.Context, cfg types.SessionConfig) error {
	if s.page.ConfigureErr != nil {
		return s.page.ConfigureErr
	}
	s.mu.Lock()
	s.configured = cfg
	s.mu.Unlock()
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := sleep(ctx, s.page.NavigateDelay); err != nil {
		return err
	}
	if s.page.NavigateErr != nil {
		return s.page.NavigateErr
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *Session) WaitReady(ctx context.Context, expression string) error {
	if s.page.NeverReady {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := sleep(ctx, s.page.ReadyDelay); err != nil {
		return err
	}
	return s.page.ReadyErr
}

func (s *Session) Content(ctx context.Context) (string, error) {
	if s.page.ContentErr != nil {
		return "", s.page.ContentErr
	}
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()

	if s.page.Render != nil {
		return s.page.Render(url), nil
	}
	return fmt.Sprintf("<html><body>%s</body></html>", url), nil
}

func (s *Session) Close() error {
	if s.closes.Add(1) == 1 {
		s.w.active.Add(-1)
	}
	return nil
}

// Closes counts Close calls on this session.
func (s *Session) Closes() int { return int(s.closes.Load()) }

// Configured returns the last configuration applied.
func (s *Session) Configured() types.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// URL returns the last navigated URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
