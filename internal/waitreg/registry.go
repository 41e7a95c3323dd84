// Package waitreg keeps predicate-matched pending waits. Each registration
// owns one timer and is removed from the active set exactly once: by a
// matching value, by its deadline, by FailAll, or by its caller giving up.
package waitreg

import (
	"context"
	"sync"
	"time"

	"marketprobe/internal/fault"
)

type result[T any] struct {
	v   T
	err error
}

type entry[T any] struct {
	id      uint64
	pred    func(T) bool
	timeout time.Duration
	timer   *time.Timer
	ch      chan result[T]
}

// Registry is safe for concurrent use.
type Registry[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []*entry[T]
}

func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Future is the caller's side of one registration.
type Future[T any] struct {
	reg *Registry[T]
	id  uint64
	ch  chan result[T]
}

// Resolved returns a future that already holds v.
func Resolved[T any](v T) *Future[T] {
	ch := make(chan result[T], 1)
	ch <- result[T]{v: v}
	return &Future[T]{ch: ch}
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	ch := make(chan result[T], 1)
	ch <- result[T]{err: err}
	return &Future[T]{ch: ch}
}

// Register adds a wait for the first value accepted by pred. If nothing
// matches within timeout the future fails with fault.ErrTimeout.
func (r *Registry[T]) Register(pred func(T) bool, timeout time.Duration) *Future[T] {
	if timeout < 0 {
		timeout = 0
	}
	e := &entry[T]{
		pred:    pred,
		timeout: timeout,
		ch:      make(chan result[T], 1),
	}
	r.mu.Lock()
	r.nextID++
	e.id = r.nextID
	r.entries = append(r.entries, e)
	// Armed under the lock so expire always finds a fully built entry.
	e.timer = time.AfterFunc(timeout, func() { r.expire(e.id) })
	r.mu.Unlock()
	return &Future[T]{reg: r, id: e.id, ch: e.ch}
}

// ResolveFirstMatch hands v to the oldest registration whose predicate
// accepts it and reports whether one did.
func (r *Registry[T]) ResolveFirstMatch(v T) bool {
	r.mu.Lock()
	var hit *entry[T]
	for i, e := range r.entries {
		if e.pred(v) {
			hit = e
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if hit == nil {
		return false
	}
	hit.timer.Stop()
	hit.ch <- result[T]{v: v}
	return true
}

// ResolveAll hands v to every registration whose predicate accepts it, in
// registration order, and returns how many were resolved.
func (r *Registry[T]) ResolveAll(v T) int {
	r.mu.Lock()
	var hits []*entry[T]
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.pred(v) {
			hits = append(hits, e)
			continue
		}
		kept = append(kept, e)
	}
	clearTail(r.entries, len(kept))
	r.entries = kept
	r.mu.Unlock()
	for _, e := range hits {
		e.timer.Stop()
		e.ch <- result[T]{v: v}
	}
	return len(hits)
}

// FailAll fails every active registration with err.
func (r *Registry[T]) FailAll(err error) int {
	r.mu.Lock()
	all := r.entries
	r.entries = nil
	r.mu.Unlock()
	for _, e := range all {
		e.timer.Stop()
		e.ch <- result[T]{err: err}
	}
	return len(all)
}

// Len is the number of active registrations.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[T]) take(id uint64) *entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return e
		}
	}
	return nil
}

func (r *Registry[T]) expire(id uint64) {
	e := r.take(id)
	if e == nil {
		return
	}
	e.ch <- result[T]{err: fault.Timeout("waiting for matching message", e.timeout)}
}

// Cancel removes the registration without resolving it. It reports false if
// the registration had already been resolved, expired or failed.
func (f *Future[T]) Cancel() bool {
	if f.reg == nil {
		return false
	}
	e := f.reg.take(f.id)
	if e == nil {
		return false
	}
	e.timer.Stop()
	return true
}

// Wait blocks until the registration resolves or ctx ends. A cancelled ctx
// deregisters the wait.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case res := <-f.ch:
		return res.v, res.err
	case <-ctx.Done():
		if f.Cancel() {
			var zero T
			return zero, ctx.Err()
		}
		// Lost the race with a resolution; the result is already buffered.
		res := <-f.ch
		return res.v, res.err
	}
}

func clearTail[T any](s []*entry[T], from int) {
	for i := from; i < len(s); i++ {
		s[i] = nil
	}
}
