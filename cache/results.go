// Package cache holds results produced by background fetch runs until the
// waiting caller collects them.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default bounds for a Results store.
const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 10 * time.Minute
)

type entry[T any] struct {
	key       string
	value     T
	abandoned bool
	createdAt time.Time
	elem      *list.Element
}

// Results is a bounded in-memory store keyed by request ID. Entries are
// removed when read, evicted oldest first when the store is full, and
// expired after a TTL. A key marked abandoned drops the value that later
// arrives for it. It is safe for concurrent use.
type Results[T any] struct {
	mu         sync.Mutex
	store      map[string]*entry[T]
	order      *list.List // oldest at front
	maxEntries int
	ttl        time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Results store. A background goroutine sweeps expired
// entries every ttl/2 until Close is called.
func New[T any](maxEntries int, ttl time.Duration) *Results[T] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Results[T]{
		store:      make(map[string]*entry[T]),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		stop:       make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Put stores value under key. It reports false when the key was abandoned,
// in which case the value is dropped and the tombstone cleared.
func (r *Results[T]) Put(key string, value T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.store[key]; ok {
		if e.abandoned {
			r.removeLocked(e)
			return false
		}
		e.value = value
		e.createdAt = time.Now()
		r.order.MoveToBack(e.elem)
		return true
	}

	r.insertLocked(&entry[T]{key: key, value: value})
	return true
}

// Take returns and removes the value stored under key.
func (r *Results[T]) Take(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	e, ok := r.store[key]
	if !ok || e.abandoned {
		return zero, false
	}
	r.removeLocked(e)
	return e.value, true
}

// Abandon marks key as no longer awaited. A stored value is discarded and
// a value arriving later is dropped by Put.
func (r *Results[T]) Abandon(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.store[key]; ok {
		r.removeLocked(e)
		return
	}
	r.insertLocked(&entry[T]{key: key, abandoned: true})
}

// Len returns the number of stored values and tombstones.
func (r *Results[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store)
}

// Close stops the background sweep.
func (r *Results[T]) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Results[T]) insertLocked(e *entry[T]) {
	for len(r.store) >= r.maxEntries {
		oldest := r.order.Front()
		if oldest == nil {
			break
		}
		r.removeLocked(oldest.Value.(*entry[T]))
	}
	e.createdAt = time.Now()
	e.elem = r.order.PushBack(e)
	r.store[e.key] = e
}

func (r *Results[T]) removeLocked(e *entry[T]) {
	r.order.Remove(e.elem)
	delete(r.store, e.key)
}

// sweep removes entries older than the TTL.
func (r *Results[T]) sweep(now time.Time) {
	cutoff := now.Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for el := r.order.Front(); el != nil; {
		e := el.Value.(*entry[T])
		if !e.createdAt.Before(cutoff) {
			break
		}
		el = el.Next()
		r.removeLocked(e)
	}
}

func (r *Results[T]) cleanupLoop() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}
