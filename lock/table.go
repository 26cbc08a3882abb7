// Package lock implements the per-key render lock table.
//
// A lock carries no result. Whoever waits on it must go back to the store
// afterwards, which keeps a single source of truth for rendered content.
package lock

import (
	"context"
	"sync"
)

// Handle is the completion signal of one in-flight render.
type Handle struct {
	done chan struct{}
}

// Done is closed when the render holding this handle releases it.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the render is released or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Table maps keys to in-flight renders. The zero value is ready to use.
type Table struct {
	mu    sync.Mutex
	locks map[string]*Handle
}

func NewTable() *Table {
	return &Table{locks: make(map[string]*Handle)}
}

/*
TryAcquire registers a render for key.

Exactly one concurrent caller gets acquired=true and must call Release when its
attempt finishes. Everyone else gets the existing handle and acquired=false.
*/
func (t *Table) TryAcquire(key string) (h *Handle, acquired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.locks[key]; ok {
		return h, false
	}
	if t.locks == nil {
		t.locks = make(map[string]*Handle)
	}

	h = &Handle{done: make(chan struct{})}
	t.locks[key] = h
	return h, true
}

// Release removes the lock for key and wakes its waiters. Releasing a key that is not held is a no-op.
func (t *Table) Release(key string) {
	t.mu.Lock()
	h, ok := t.locks[key]
	if ok {
		delete(t.locks, key)
	}
	t.mu.Unlock()

	if ok {
		close(h.done)
	}
}

// Len is the number of renders currently in flight.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
