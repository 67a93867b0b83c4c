package engine

import (
	"container/list"
	"context"
	"sync"
)

// RunToken is a mutual-exclusion token granted to waiters in arrival order.
type RunToken struct {
	mu      sync.Mutex
	held    bool
	waiters *list.List // of chan struct{}
}

// NewRunToken creates a free token.
func NewRunToken() *RunToken {
	return &RunToken{waiters: list.New()}
}

// Acquire blocks until the token is granted to the caller or ctx ends.
func (t *RunToken) Acquire(ctx context.Context) error {
	t.mu.Lock()
	if !t.held && t.waiters.Len() == 0 {
		t.held = true
		t.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := t.waiters.PushBack(ready)
	t.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling; pass the token on.
			t.mu.Unlock()
			t.Release()
		default:
			t.waiters.Remove(elem)
			t.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release hands the token to the longest waiter, or frees it.
func (t *RunToken) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if front := t.waiters.Front(); front != nil {
		t.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	t.held = false
}
