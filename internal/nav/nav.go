// Package nav steers a player to a coordinate using nothing but movement
// intents and state snapshots. There is no path planning: when progress
// stalls the controller switches between a straight-line approach and
// axis-aligned approaches, which is enough to slide around most obstacles
// that block the direct vector.
package nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

// Mover is the part of a session navigation needs.
type Mover interface {
	WaitForState(ctx context.Context, timeout time.Duration) (protocol.StateMsg, error)
	Position() protocol.Vec2
	SendInput(move protocol.Vec2) error
}

type Mode int

const (
	Direct Mode = iota
	AxisX
	AxisY
)

func (m Mode) String() string {
	switch m {
	case AxisX:
		return "axisX"
	case AxisY:
		return "axisY"
	default:
		return "direct"
	}
}

// Tuning holds the stall-detection constants.
type Tuning struct {
	// Epsilon is the distance gain that counts as progress.
	Epsilon float64
	// StuckAfter is how long without progress before switching mode.
	StuckAfter time.Duration
	// StateWait bounds each wait for a fresh snapshot.
	StateWait time.Duration
}

func DefaultTuning() Tuning {
	return Tuning{
		Epsilon:    0.02,
		StuckAfter: 1200 * time.Millisecond,
		StateWait:  250 * time.Millisecond,
	}
}

type Options struct {
	Tolerance    float64
	PollInterval time.Duration
	MaxDuration  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Tolerance:    0.6,
		PollInterval: 50 * time.Millisecond,
		MaxDuration:  15 * time.Second,
	}
}

type Controller struct {
	tuning Tuning
	log    *log.Logger
	now    func() time.Time
}

func NewController(t Tuning, logger *log.Logger) *Controller {
	def := DefaultTuning()
	if t.Epsilon <= 0 {
		t.Epsilon = def.Epsilon
	}
	if t.StuckAfter <= 0 {
		t.StuckAfter = def.StuckAfter
	}
	if t.StateWait <= 0 {
		t.StateWait = def.StateWait
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{tuning: t, log: logger, now: time.Now}
}

// MoveTo drives m until its position is within opts.Tolerance of target.
// A zero intent is sent on every exit path so the player never keeps
// moving after the call returns.
func (c *Controller) MoveTo(ctx context.Context, m Mover, target protocol.Vec2, opts Options) (err error) {
	def := DefaultOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}

	defer func() {
		if stopErr := m.SendInput(protocol.Vec2{}); stopErr != nil && err == nil {
			err = fmt.Errorf("stop at %s: %w", fmtVec(target), stopErr)
		}
	}()

	start := c.now()
	deadline := start.Add(opts.MaxDuration)
	tr := newTracker(c.tuning, start)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.now().Before(deadline) {
			pos := m.Position()
			return fmt.Errorf("%w: %s not reached within %s (at %s, %.2f away, mode %s)",
				fault.ErrUnreachable, fmtVec(target), opts.MaxDuration, fmtVec(pos), pos.Dist(target), tr.mode)
		}

		// A missed snapshot only means this round steers on a stale position.
		if _, err := m.WaitForState(ctx, c.tuning.StateWait); err != nil {
			if errors.Is(err, fault.ErrConnectionClosed) || ctx.Err() != nil {
				return err
			}
		}

		pos := m.Position()
		delta := target.Sub(pos)
		dist := delta.Len()
		if dist <= opts.Tolerance {
			return nil
		}

		prev := tr.mode
		mode := tr.observe(dist, delta, c.now())
		if mode != prev {
			c.log.Printf("nav: %s -> %s at %s (%.2f from %s)", prev, mode, fmtVec(pos), dist, fmtVec(target))
		}
		if err := m.SendInput(Intent(mode, delta)); err != nil {
			return err
		}

		t := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Intent is the movement command for mode given the remaining offset. If
// the mode yields no direction the direct unit vector is used instead.
func Intent(mode Mode, delta protocol.Vec2) protocol.Vec2 {
	var v protocol.Vec2
	switch mode {
	case AxisX:
		v = protocol.Vec2{X: sign(delta.X)}
	case AxisY:
		v = protocol.Vec2{Y: sign(delta.Y)}
	default:
		v = delta.Unit()
	}
	if v.IsZero() {
		v = delta.Unit()
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Next is the mode to try after mode has stalled.
func Next(mode Mode, delta protocol.Vec2) Mode {
	switch mode {
	case Direct:
		if math.Abs(delta.X) >= math.Abs(delta.Y) {
			return AxisX
		}
		return AxisY
	case AxisX:
		return AxisY
	default:
		return Direct
	}
}

// tracker is the stall detector. It holds no references to a session so it
// can be driven with synthetic distances and clocks.
type tracker struct {
	tuning      Tuning
	best        float64
	lastImprove time.Time
	mode        Mode
}

func newTracker(t Tuning, now time.Time) *tracker {
	return &tracker{tuning: t, best: math.Inf(1), lastImprove: now, mode: Direct}
}

func (t *tracker) observe(dist float64, delta protocol.Vec2, now time.Time) Mode {
	if dist < t.best-t.tuning.Epsilon {
		t.best = dist
		t.lastImprove = now
		t.mode = Direct
		return t.mode
	}
	if now.Sub(t.lastImprove) > t.tuning.StuckAfter {
		t.mode = Next(t.mode, delta)
		t.lastImprove = now
	}
	return t.mode
}

func fmtVec(v protocol.Vec2) string {
	return fmt.Sprintf("(%.2f,%.2f)", v.X, v.Y)
}
