package client

import (
	"context"
	"sync"
	"time"

	"marketprobe/internal/protocol"
	"marketprobe/internal/waitreg"
)

// DefaultFreshness is how old a cached snapshot may be and still satisfy
// WaitForState without waiting for the next broadcast.
const DefaultFreshness = 100 * time.Millisecond

// StateTracker retains the most recent world-state snapshot.
type StateTracker struct {
	freshness time.Duration
	now       func() time.Time

	mu       sync.Mutex
	latest   protocol.StateMsg
	latestAt time.Time
	has      bool
	waiters  *waitreg.Registry[protocol.StateMsg]
	closed   error
}

func NewStateTracker(freshness time.Duration) *StateTracker {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &StateTracker{
		freshness: freshness,
		now:       time.Now,
		waiters:   waitreg.New[protocol.StateMsg](),
	}
}

// Update replaces the current snapshot and releases every waiter in FIFO
// order.
func (t *StateTracker) Update(m protocol.StateMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return
	}
	t.latest = m
	t.latestAt = t.now()
	t.has = true
	t.waiters.ResolveAll(m)
}

func (t *StateTracker) Latest() (protocol.StateMsg, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.latestAt, t.has
}

// WaitForState returns the cached snapshot if it is fresh enough, otherwise
// the next one to arrive.
func (t *StateTracker) WaitForState(ctx context.Context, timeout time.Duration) (protocol.StateMsg, error) {
	t.mu.Lock()
	if t.closed != nil {
		err := t.closed
		t.mu.Unlock()
		return protocol.StateMsg{}, err
	}
	if t.has && t.now().Sub(t.latestAt) < t.freshness {
		m := t.latest
		t.mu.Unlock()
		return m, nil
	}
	f := t.waiters.Register(func(protocol.StateMsg) bool { return true }, timeout)
	t.mu.Unlock()
	return f.Wait(ctx)
}

func (t *StateTracker) Close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return
	}
	t.closed = err
	t.waiters.FailAll(err)
}

func (t *StateTracker) Waiting() int { return t.waiters.Len() }
