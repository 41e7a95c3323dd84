package client

import (
	"context"
	"sync"
	"time"

	"marketprobe/internal/protocol"
	"marketprobe/internal/waitreg"
)

const DefaultInboxCapacity = 50

// Correlator turns the inbound frame stream into awaitable responses.
// Frames nobody is waiting for are kept in a bounded inbox so a response
// that beats its WaitFor call is still delivered, exactly once.
type Correlator struct {
	state       *StateTracker
	onInventory func(protocol.InventoryMsg)

	mu       sync.Mutex
	capacity int
	inbox    []protocol.Envelope
	evicted  int
	pending  *waitreg.Registry[protocol.Envelope]
	closed   error
}

func NewCorrelator(state *StateTracker, onInventory func(protocol.InventoryMsg), capacity int) *Correlator {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Correlator{
		state:       state,
		onInventory: onInventory,
		capacity:    capacity,
		pending:     waitreg.New[protocol.Envelope](),
	}
}

// Handle processes one inbound frame. Frames must be handed over one at a
// time in arrival order.
func (c *Correlator) Handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeState:
		var m protocol.StateMsg
		if err := env.Decode(&m); err == nil && c.state != nil {
			c.state.Update(m)
		}
	case protocol.TypeInventory:
		var m protocol.InventoryMsg
		if err := env.Decode(&m); err == nil && c.onInventory != nil {
			c.onInventory(m)
		}
	}
	c.dispatch(env)
}

func (c *Correlator) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return
	}
	if c.pending.ResolveFirstMatch(env) {
		return
	}
	c.inbox = append(c.inbox, env)
	if over := len(c.inbox) - c.capacity; over > 0 {
		n := copy(c.inbox, c.inbox[over:])
		for i := n; i < len(c.inbox); i++ {
			c.inbox[i] = protocol.Envelope{}
		}
		c.inbox = c.inbox[:n]
		c.evicted += over
	}
}

// Expect claims the oldest buffered frame accepted by pred, or registers a
// wait for the next one. Both phases happen under one lock so a frame
// arriving concurrently cannot slip between them.
func (c *Correlator) Expect(pred protocol.Predicate, timeout time.Duration) *waitreg.Future[protocol.Envelope] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return waitreg.Failed[protocol.Envelope](c.closed)
	}
	for i, env := range c.inbox {
		if pred(env) {
			c.inbox = append(c.inbox[:i], c.inbox[i+1:]...)
			return waitreg.Resolved(env)
		}
	}
	return c.pending.Register(pred, timeout)
}

func (c *Correlator) WaitFor(ctx context.Context, pred protocol.Predicate, timeout time.Duration) (protocol.Envelope, error) {
	return c.Expect(pred, timeout).Wait(ctx)
}

// Close fails every pending wait with err and drops the inbox. Later calls
// to Expect fail immediately.
func (c *Correlator) Close(err error) {
	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return
	}
	c.closed = err
	c.inbox = nil
	c.pending.FailAll(err)
	c.mu.Unlock()
	if c.state != nil {
		c.state.Close(err)
	}
}

func (c *Correlator) Pending() int { return c.pending.Len() }

func (c *Correlator) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox)
}

// Evicted counts frames dropped from a full inbox.
func (c *Correlator) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
