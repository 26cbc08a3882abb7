package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/krisalay/prerender-cache/fakeworker"
	"github.com/krisalay/prerender-cache/types"
	"github.com/krisalay/prerender-cache/worker"
)

func newManager(t *testing.T, l *fakeworker.Launcher, every time.Duration) *worker.Manager {
	t.Helper()
	m := worker.NewManager(l, worker.Options{RecycleInterval: every})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLazyLaunch(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := newManager(t, l, 0)

	if l.Launches() != 0 || m.Running() {
		t.Fatalf("expected no worker before first Acquire")
	}

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()

	if l.Launches() != 1 {
		t.Fatalf("expected 1 launch, got %d", l.Launches())
	}
	if m.Active() != 1 {
		t.Fatalf("expected 1 active lease, got %d", m.Active())
	}
}

func TestConcurrentAcquireSharesOneLaunch(t *testing.T) {
	l := &fakeworker.Launcher{LaunchDelay: 50 * time.Millisecond}
	m := newManager(t, l, 0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		workers = make(map[types.Worker]bool)
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			workers[lease.Worker] = true
			mu.Unlock()
			lease.Release()
		}()
	}
	wg.Wait()

	if l.Launches() != 1 {
		t.Fatalf("expected 1 launch, got %d", l.Launches())
	}
	if len(workers) != 1 {
		t.Fatalf("expected all callers to share one worker, got %d", len(workers))
	}
	if m.Active() != 0 {
		t.Fatalf("expected no active leases, got %d", m.Active())
	}
}

func TestLaunchFailureIsRetried(t *testing.T) {
	boom := errors.New("chrome not found")
	l := &fakeworker.Launcher{LaunchErr: boom}
	m := newManager(t, l, 0)

	if _, err := m.Acquire(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected launch error, got %v", err)
	}
	if m.Running() || m.Active() != 0 {
		t.Fatalf("failed launch must leave manager empty")
	}

	l.LaunchErr = nil
	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	lease.Release()

	if l.Launches() != 2 {
		t.Fatalf("expected a fresh launch, got %d launches", l.Launches())
	}
}

func TestRelaunchIsPaced(t *testing.T) {
	boom := errors.New("crashed on start")
	l := &fakeworker.Launcher{LaunchErr: boom}
	m := worker.NewManager(l, worker.Options{LaunchInterval: 80 * time.Millisecond})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := m.Acquire(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected launch error, got %v", i, err)
		}
	}

	// First launch is immediate, the next two each wait one interval.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("relaunches not paced: 3 launches in %v", elapsed)
	}
	if l.Launches() != 3 {
		t.Fatalf("expected 3 launches, got %d", l.Launches())
	}
}

func TestShutdownInterruptsPacedLaunch(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := worker.NewManager(l, worker.Options{LaunchInterval: time.Hour})

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Release()
	m.Recycle()

	errc := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, worker.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("paced launch ignored shutdown")
	}
	if l.Launches() != 1 {
		t.Fatalf("expected no second launch, got %d", l.Launches())
	}
}

func TestAcquireContextDoesNotAbortLaunch(t *testing.T) {
	l := &fakeworker.Launcher{LaunchDelay: 100 * time.Millisecond}
	m := newManager(t, l, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := m.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	waitFor(t, "background launch", m.Running)
	if l.Launches() != 1 {
		t.Fatalf("expected 1 launch, got %d", l.Launches())
	}
}

func TestRecycleSkipsWhileActive(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := newManager(t, l, 0)

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if m.Recycle() {
		t.Fatalf("recycled a worker with an active lease")
	}
	if l.Workers()[0].Closed() {
		t.Fatalf("worker closed while in use")
	}

	lease.Release()
	lease.Release() // idempotent

	if m.Active() != 0 {
		t.Fatalf("double release corrupted active count: %d", m.Active())
	}
	if !m.Recycle() {
		t.Fatalf("expected idle worker to be recycled")
	}
	if !l.Workers()[0].Closed() || m.Running() {
		t.Fatalf("expected worker retired")
	}
	if m.Recycle() {
		t.Fatalf("nothing left to recycle")
	}
}

func TestRecyclerLoop(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := newManager(t, l, 10*time.Millisecond)

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Several ticks pass while the lease is held.
	time.Sleep(50 * time.Millisecond)
	if l.Workers()[0].Closed() {
		t.Fatalf("recycler retired a worker in use")
	}

	lease.Release()
	waitFor(t, "recycle after release", func() bool { return l.Workers()[0].Closed() })

	lease, err = m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after recycle: %v", err)
	}
	lease.Release()

	if l.Launches() != 2 {
		t.Fatalf("expected relaunch after recycle, got %d launches", l.Launches())
	}
}

func TestTeardownFailureStillClearsWorker(t *testing.T) {
	l := &fakeworker.Launcher{CloseErr: errors.New("zombie")}
	m := newManager(t, l, 0)

	lease, _ := m.Acquire(context.Background())
	lease.Release()

	if !m.Recycle() {
		t.Fatalf("expected recycle")
	}
	if m.Running() {
		t.Fatalf("reference must be cleared even when teardown fails")
	}
}

func TestShutdown(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := worker.NewManager(l, worker.Options{RecycleInterval: time.Hour})

	lease, _ := m.Acquire(context.Background())
	lease.Release()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if got := l.Workers()[0].Closes(); got != 1 {
		t.Fatalf("expected worker closed once, got %d", got)
	}
	if _, err := m.Acquire(context.Background()); !errors.Is(err, worker.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestShutdownWithoutWorker(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := worker.NewManager(l, worker.Options{})

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if l.Launches() != 0 {
		t.Fatalf("shutdown must not launch a worker")
	}
}

func TestShutdownWaitsForLeases(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := worker.NewManager(l, worker.Options{})

	lease, _ := m.Acquire(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	if l.Workers()[0].Closed() {
		t.Fatalf("worker retired under an active lease")
	}

	lease.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("shutdown did not finish after lease release")
	}
	if !l.Workers()[0].Closed() {
		t.Fatalf("expected worker retired")
	}
}

func TestShutdownDrainTimeout(t *testing.T) {
	l := &fakeworker.Launcher{}
	m := worker.NewManager(l, worker.Options{})

	lease, _ := m.Acquire(context.Background())
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if !l.Workers()[0].Closed() {
		t.Fatalf("expected worker retired after drain timeout")
	}
}
