package nav

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

// simMover advances one fixed step along the last intent per snapshot.
type simMover struct {
	mu     sync.Mutex
	pos    protocol.Vec2
	move   protocol.Vec2
	step   float64
	frozen bool
	inputs []protocol.Vec2
}

func (s *simMover) WaitForState(ctx context.Context, timeout time.Duration) (protocol.StateMsg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		mv := s.move
		if l := mv.Len(); l > 1 {
			mv = mv.Scale(1 / l)
		}
		s.pos = s.pos.Add(mv.Scale(s.step))
	}
	return protocol.StateMsg{}, nil
}

func (s *simMover) Position() protocol.Vec2 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *simMover) SendInput(move protocol.Vec2) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.move = move
	s.inputs = append(s.inputs, move)
	return nil
}

func (s *simMover) lastInput() protocol.Vec2 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[len(s.inputs)-1]
}

func TestMoveToConverges(t *testing.T) {
	m := &simMover{step: 0.25}
	c := NewController(Tuning{}, nil)
	target := protocol.Vec2{X: 3, Y: -2}
	err := c.MoveTo(context.Background(), m, target, Options{Tolerance: 0.3, PollInterval: time.Millisecond, MaxDuration: 5 * time.Second})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if d := m.Position().Dist(target); d > 0.3 {
		t.Fatalf("ended %.2f from target", d)
	}
	if !m.lastInput().IsZero() {
		t.Fatalf("expected a final stop intent, got %+v", m.lastInput())
	}
}

func TestMoveToAlreadyThere(t *testing.T) {
	m := &simMover{pos: protocol.Vec2{X: 1, Y: 1}}
	c := NewController(Tuning{}, nil)
	if err := c.MoveTo(context.Background(), m, protocol.Vec2{X: 1.1, Y: 1}, Options{Tolerance: 0.5}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(m.inputs) != 1 || !m.inputs[0].IsZero() {
		t.Fatalf("expected exactly one stop intent, got %+v", m.inputs)
	}
}

func TestMoveToUnreachableStops(t *testing.T) {
	m := &simMover{frozen: true}
	c := NewController(Tuning{StuckAfter: 5 * time.Millisecond}, nil)
	err := c.MoveTo(context.Background(), m, protocol.Vec2{X: 10}, Options{Tolerance: 0.5, PollInterval: time.Millisecond, MaxDuration: 60 * time.Millisecond})
	if !errors.Is(err, fault.ErrUnreachable) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if !m.lastInput().IsZero() {
		t.Fatalf("expected a final stop intent, got %+v", m.lastInput())
	}
}

func TestMoveToCancelledStops(t *testing.T) {
	m := &simMover{frozen: true}
	c := NewController(Tuning{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := c.MoveTo(ctx, m, protocol.Vec2{X: 10}, Options{PollInterval: time.Millisecond, MaxDuration: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !m.lastInput().IsZero() {
		t.Fatalf("expected a final stop intent")
	}
}

func TestStalledDistanceCyclesModes(t *testing.T) {
	tu := Tuning{Epsilon: 0.02, StuckAfter: 1200 * time.Millisecond}
	t0 := time.Unix(0, 0)
	tr := newTracker(tu, t0)
	delta := protocol.Vec2{X: 5, Y: 2}

	steps := []struct {
		at   time.Duration
		want Mode
	}{
		{0, Direct},
		{1000 * time.Millisecond, Direct},
		{1300 * time.Millisecond, AxisX},
		{2000 * time.Millisecond, AxisX},
		{2600 * time.Millisecond, AxisY},
		{3900 * time.Millisecond, Direct},
		{5200 * time.Millisecond, AxisX},
	}
	for _, s := range steps {
		if got := tr.observe(5.385, delta, t0.Add(s.at)); got != s.want {
			t.Fatalf("at %s: mode %s, want %s", s.at, got, s.want)
		}
	}
}

func TestProgressReturnsToDirect(t *testing.T) {
	tu := DefaultTuning()
	t0 := time.Unix(0, 0)
	tr := newTracker(tu, t0)
	delta := protocol.Vec2{X: 1, Y: 4}
	tr.observe(4.1, delta, t0)
	if got := tr.observe(4.1, delta, t0.Add(1300*time.Millisecond)); got != AxisY {
		t.Fatalf("larger y residual should pick axisY first, got %s", got)
	}
	// Sub-epsilon gains are not progress.
	if got := tr.observe(4.09, delta, t0.Add(1400*time.Millisecond)); got != AxisY {
		t.Fatalf("got %s", got)
	}
	if got := tr.observe(3.5, delta, t0.Add(1500*time.Millisecond)); got != Direct {
		t.Fatalf("progress must restore direct, got %s", got)
	}
}

func TestIntent(t *testing.T) {
	d := protocol.Vec2{X: 3, Y: -4}
	if v := Intent(Direct, d); v.X != 0.6 || v.Y != -0.8 {
		t.Fatalf("direct: %+v", v)
	}
	if v := Intent(AxisX, d); v.X != 1 || v.Y != 0 {
		t.Fatalf("axisX: %+v", v)
	}
	if v := Intent(AxisY, d); v.X != 0 || v.Y != -1 {
		t.Fatalf("axisY: %+v", v)
	}
	// No y residual left: axisY would stand still, so fall back to direct.
	if v := Intent(AxisY, protocol.Vec2{X: 2}); v.X != 1 || v.Y != 0 {
		t.Fatalf("degenerate axisY: %+v", v)
	}
}

func TestNext(t *testing.T) {
	cases := []struct {
		from  Mode
		delta protocol.Vec2
		want  Mode
	}{
		{Direct, protocol.Vec2{X: 3, Y: 1}, AxisX},
		{Direct, protocol.Vec2{X: 1, Y: -3}, AxisY},
		{AxisX, protocol.Vec2{X: 3, Y: 1}, AxisY},
		{AxisY, protocol.Vec2{X: 3, Y: 1}, Direct},
	}
	for _, c := range cases {
		if got := Next(c.from, c.delta); got != c.want {
			t.Fatalf("Next(%s, %+v) = %s, want %s", c.from, c.delta, got, c.want)
		}
	}
}
