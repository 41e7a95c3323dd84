// Package ops implements the economic operations a session can perform.
// Every operation waits for the server's acknowledgement and then for the
// inventory mirror to show the expected effect; nothing is retried.
package ops

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"marketprobe/internal/client"
	"marketprobe/internal/protocol"
)

type Timeouts struct {
	// Response bounds the wait for the matching acknowledgement frame.
	Response time.Duration
	// Converge bounds the wait for mirrors to reflect the operation.
	Converge time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Response: 5 * time.Second, Converge: 5 * time.Second}
}

type Ops struct {
	s   *client.Session
	t   Timeouts
	log *log.Logger
}

func New(s *client.Session, t Timeouts, logger *log.Logger) *Ops {
	def := DefaultTimeouts()
	if t.Response <= 0 {
		t.Response = def.Response
	}
	if t.Converge <= 0 {
		t.Converge = def.Converge
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Ops{s: s, t: t, log: logger}
}

func (o *Ops) Session() *client.Session { return o.s }

// request sends v and returns the first frame matching pred.
func (o *Ops) request(ctx context.Context, v any, pred protocol.Predicate) (protocol.Envelope, error) {
	if err := o.s.Send(v); err != nil {
		return protocol.Envelope{}, err
	}
	return o.s.WaitFor(ctx, pred, o.t.Response)
}

func (o *Ops) itemCount(ctx context.Context, item string, want int) error {
	_, _, err := o.s.WaitInventory(ctx, func(inv protocol.Inventory, _ protocol.Bank) bool {
		return inv.Count(item) == want
	}, o.t.Converge)
	if err != nil {
		return fmt.Errorf("%s count %d (have %d): %w", item, want, o.s.Inventory().Count(item), err)
	}
	return nil
}
