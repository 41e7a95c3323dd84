package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

func TestWaitForStateUsesFreshCache(t *testing.T) {
	st := NewStateTracker(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	st.now = func() time.Time { return now }
	st.Update(protocol.StateMsg{Players: []protocol.PlayerState{{ID: "a", X: 1}}})

	now = now.Add(50 * time.Millisecond)
	m, err := st.WaitForState(context.Background(), 10*time.Millisecond)
	if err != nil || m.Players[0].X != 1 {
		t.Fatalf("expected cached snapshot, got %+v err=%v", m, err)
	}

	now = now.Add(100 * time.Millisecond)
	if _, err := st.WaitForState(context.Background(), 10*time.Millisecond); !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("stale cache must wait for a new snapshot, got %v", err)
	}
}

func TestOneSnapshotReleasesAllWaiters(t *testing.T) {
	st := NewStateTracker(time.Millisecond)
	const n = 5
	results := make(chan protocol.StateMsg, n)
	for i := 0; i < n; i++ {
		go func() {
			m, err := st.WaitForState(context.Background(), time.Second)
			if err == nil {
				results <- m
			}
		}()
	}
	waitUntil(t, func() bool { return st.Waiting() == n })
	st.Update(protocol.StateMsg{Players: []protocol.PlayerState{{ID: "x", Y: 9}}})
	for i := 0; i < n; i++ {
		select {
		case m := <-results:
			if m.Players[0].Y != 9 {
				t.Fatalf("unexpected snapshot %+v", m)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d not released", i)
		}
	}
}

func TestLatestKeepsOnlyNewest(t *testing.T) {
	st := NewStateTracker(0)
	if _, _, ok := st.Latest(); ok {
		t.Fatalf("no snapshot expected yet")
	}
	st.Update(protocol.StateMsg{Players: []protocol.PlayerState{{ID: "a", X: 1}}})
	st.Update(protocol.StateMsg{Players: []protocol.PlayerState{{ID: "a", X: 2}}})
	m, _, ok := st.Latest()
	if !ok || m.Players[0].X != 2 {
		t.Fatalf("latest = %+v", m)
	}
}
