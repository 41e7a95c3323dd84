package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

func (o *Ops) admin(ctx context.Context, msg protocol.AdminMsg) (protocol.AdminResultMsg, error) {
	if !o.s.IsAdmin() {
		return protocol.AdminResultMsg{}, fault.Denied(msg.Command)
	}
	msg.Type = protocol.TypeAdmin
	env, err := o.request(ctx, msg, protocol.IsAdmin(msg.Command))
	if err != nil {
		return protocol.AdminResultMsg{}, fmt.Errorf("%s: %w", msg.Command, err)
	}
	var res protocol.AdminResultMsg
	if err := env.Decode(&res); err != nil {
		return res, fault.Mismatch(msg.Command, "%v", err)
	}
	if res.Event != protocol.EventOK {
		return res, fault.Rejected(msg.Command, res.Message)
	}
	return res, nil
}

// GrantCurrency credits amount to the player behind profileID. The grantee
// observes the effect on its own session; nothing is polled here.
func (o *Ops) GrantCurrency(ctx context.Context, profileID string, amount int) error {
	if _, err := o.admin(ctx, protocol.AdminMsg{
		Command:   protocol.CommandGrantCurrency,
		ProfileID: profileID,
		Amount:    amount,
	}); err != nil {
		return err
	}
	o.log.Printf("%s: granted %d to %s", o.s.Name(), amount, profileID)
	return nil
}

// TeleportToSafeZone moves this session's player into zoneID (any zone when
// empty) and waits until a snapshot places it there.
func (o *Ops) TeleportToSafeZone(ctx context.Context, zoneID string) error {
	res, err := o.admin(ctx, protocol.AdminMsg{
		Command:   protocol.CommandTeleportSafe,
		ProfileID: o.s.ProfileID(),
		ZoneID:    zoneID,
	})
	if err != nil {
		return err
	}
	if res.ZoneID != "" {
		zoneID = res.ZoneID
	}
	o.s.SetZone(zoneID)

	zone, ok := findZone(o.s.SafeZones(), zoneID)
	if !ok {
		return nil
	}
	center, radius := protocol.Vec2{X: zone.X, Y: zone.Y}, zone.Radius
	if f := zone.Facilities.Trading; f != nil {
		center, radius = f.Center(), f.Radius
	}
	if err := o.awaitWithin(ctx, center, radius); err != nil {
		return fmt.Errorf("%s %s: %w", protocol.CommandTeleportSafe, zoneID, err)
	}
	o.log.Printf("%s: teleported to %s", o.s.Name(), zoneID)
	return nil
}

// awaitWithin polls snapshots until the player is within radius of center.
func (o *Ops) awaitWithin(ctx context.Context, center protocol.Vec2, radius float64) error {
	deadline := time.NewTimer(o.t.Converge)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := o.s.WaitForState(ctx, o.t.Converge); err != nil && !errors.Is(err, fault.ErrTimeout) {
			return err
		}
		pos := o.s.Position()
		if pos.Dist(center) <= radius {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fault.Timeout(fmt.Sprintf("position within %.1f of (%.1f,%.1f), at (%.1f,%.1f)",
				radius, center.X, center.Y, pos.X, pos.Y), o.t.Converge)
		case <-tick.C:
		}
	}
}

func findZone(zones []protocol.SafeZone, id string) (protocol.SafeZone, bool) {
	for _, z := range zones {
		if id == "" || z.ID == id {
			return z, true
		}
	}
	return protocol.SafeZone{}, false
}
