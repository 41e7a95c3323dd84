package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

func frame(t *testing.T, s string) protocol.Envelope {
	t.Helper()
	e, err := protocol.DecodeEnvelope([]byte(s))
	if err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return e
}

func TestBufferedResponseIsDeliveredOnce(t *testing.T) {
	c := NewCorrelator(nil, nil, 0)
	c.Handle(frame(t, `{"type":"trading","action":"create","ok":true}`))

	got, err := c.WaitFor(context.Background(), protocol.IsTrading(protocol.ActionCreate), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !got.Succeeded() {
		t.Fatalf("unexpected frame: %+v", got)
	}
	if c.Buffered() != 0 {
		t.Fatalf("claimed frame still buffered")
	}

	_, err = c.WaitFor(context.Background(), protocol.IsTrading(protocol.ActionCreate), 20*time.Millisecond)
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("expected timeout on second wait, got %v", err)
	}
}

func TestRegisteredWaiterClaimsFrameBeforeInbox(t *testing.T) {
	c := NewCorrelator(nil, nil, 0)
	f := c.Expect(protocol.IsType(protocol.TypeGathered), time.Second)
	c.Handle(frame(t, `{"type":"gathered"}`))
	if _, err := f.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if c.Buffered() != 0 {
		t.Fatalf("frame delivered to a waiter must not also be buffered")
	}
}

func TestOverlappingPredicatesFirstRegisteredWins(t *testing.T) {
	c := NewCorrelator(nil, nil, 0)
	first := c.Expect(protocol.IsType(protocol.TypeTrading), time.Second)
	second := c.Expect(protocol.IsTrading(protocol.ActionBuy), time.Second)

	c.Handle(frame(t, `{"type":"trading","action":"buy","listingId":"a"}`))
	c.Handle(frame(t, `{"type":"trading","action":"buy","listingId":"b"}`))

	a, _ := first.Wait(context.Background())
	b, _ := second.Wait(context.Background())
	if a.ListingID != "a" || b.ListingID != "b" {
		t.Fatalf("got first=%q second=%q", a.ListingID, b.ListingID)
	}
}

func TestInboxEvictsOldest(t *testing.T) {
	c := NewCorrelator(nil, nil, 3)
	for i := 0; i < 5; i++ {
		c.Handle(frame(t, fmt.Sprintf(`{"type":"trading","action":"cancel","listingId":"L%d"}`, i)))
	}
	if c.Buffered() != 3 || c.Evicted() != 2 {
		t.Fatalf("buffered=%d evicted=%d", c.Buffered(), c.Evicted())
	}
	got, err := c.WaitFor(context.Background(), protocol.IsTrading(protocol.ActionCancel), 10*time.Millisecond)
	if err != nil || got.ListingID != "L2" {
		t.Fatalf("expected oldest surviving frame L2, got %q err=%v", got.ListingID, err)
	}
}

func TestConcurrentArrivalNeverLosesOrDuplicates(t *testing.T) {
	for round := 0; round < 50; round++ {
		c := NewCorrelator(nil, nil, 0)
		const n = 10
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				c.Handle(protocol.Envelope{Type: protocol.TypeTrading, Action: protocol.ActionBuy, ListingID: fmt.Sprint(i)})
			}
		}()
		seen := map[string]int{}
		for i := 0; i < n; i++ {
			id := fmt.Sprint(i)
			env, err := c.WaitFor(context.Background(), func(e protocol.Envelope) bool { return e.ListingID == id }, time.Second)
			if err != nil {
				t.Fatalf("round %d: wait %s: %v", round, id, err)
			}
			seen[env.ListingID]++
		}
		wg.Wait()
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("listing %s delivered %d times", id, count)
			}
		}
		if c.Buffered() != 0 || c.Pending() != 0 {
			t.Fatalf("leftovers: buffered=%d pending=%d", c.Buffered(), c.Pending())
		}
	}
}

func TestCloseFailsPendingAndClearsInbox(t *testing.T) {
	st := NewStateTracker(0)
	c := NewCorrelator(st, nil, 0)
	c.Handle(frame(t, `{"type":"gathered"}`))

	const k = 4
	var futures []error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		f := c.Expect(protocol.IsType(protocol.TypeAdmin), time.Minute)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Wait(context.Background())
			mu.Lock()
			futures = append(futures, err)
			mu.Unlock()
		}()
	}
	stateErr := make(chan error, 1)
	go func() {
		_, err := st.WaitForState(context.Background(), time.Minute)
		stateErr <- err
	}()
	waitUntil(t, func() bool { return st.Waiting() == 1 })

	c.Close(fault.Closed(nil))
	wg.Wait()

	if len(futures) != k {
		t.Fatalf("expected %d failures, got %d", k, len(futures))
	}
	for _, err := range futures {
		if !errors.Is(err, fault.ErrConnectionClosed) {
			t.Fatalf("expected connection closed, got %v", err)
		}
	}
	select {
	case err := <-stateErr:
		if !errors.Is(err, fault.ErrConnectionClosed) {
			t.Fatalf("state waiter: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("state waiter still hanging")
	}
	if c.Buffered() != 0 {
		t.Fatalf("inbox not cleared")
	}
	if _, err := c.WaitFor(context.Background(), protocol.IsType(protocol.TypeGathered), time.Second); !errors.Is(err, fault.ErrConnectionClosed) {
		t.Fatalf("wait after close: %v", err)
	}
}

func TestHandleRoutesStateAndInventory(t *testing.T) {
	st := NewStateTracker(time.Minute)
	var got protocol.InventoryMsg
	c := NewCorrelator(st, func(m protocol.InventoryMsg) { got = m }, 0)

	c.Handle(frame(t, `{"type":"state","players":[{"id":"p1","x":3,"y":4}]}`))
	c.Handle(frame(t, `{"type":"inventory","inventory":{"items":{"iron":3},"currency":10},"bank":{"currency":7}}`))

	snap, _, ok := st.Latest()
	if !ok || len(snap.Players) != 1 || snap.Players[0].X != 3 {
		t.Fatalf("state not routed: %+v", snap)
	}
	if got.Inventory.Count("iron") != 3 || got.Bank.Currency != 7 {
		t.Fatalf("inventory not routed: %+v", got)
	}
	// Both kinds still go through generic dispatch.
	if c.Buffered() != 2 {
		t.Fatalf("buffered=%d, want 2", c.Buffered())
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
