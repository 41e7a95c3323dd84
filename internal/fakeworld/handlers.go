package fakeworld

import (
	"encoding/json"
	"fmt"
	"time"

	"marketprobe/internal/protocol"
)

func (w *World) handle(playerID string, env protocol.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.players[playerID]
	if p == nil {
		return
	}
	switch env.Type {
	case protocol.TypeInput:
		var m protocol.InputMsg
		if env.Decode(&m) != nil {
			return
		}
		p.move = protocol.Vec2{X: clamp(m.MoveX), Y: clamp(m.MoveY)}
		p.aim = protocol.Vec2{X: m.AimX, Y: m.AimY}
	case protocol.TypeGather:
		w.gatherLocked(p)
	case protocol.TypeTrading:
		var m protocol.TradingReq
		if env.Decode(&m) != nil {
			return
		}
		w.tradeLocked(p, m)
	case protocol.TypeAdmin:
		var m protocol.AdminMsg
		if env.Decode(&m) != nil {
			return
		}
		w.adminLocked(p, m)
	default:
		w.sendLocked(p, protocol.ErrorMsg{Type: protocol.TypeError, Message: "unknown type " + env.Type})
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func (w *World) gatherLocked(p *player) {
	for i := range w.nodes {
		n := &w.nodes[i]
		if p.pos.Dist(n.Pos()) > w.cfg.GatherRange {
			continue
		}
		if n.Amount <= 0 {
			w.sendLocked(p, protocol.GatheredMsg{Type: protocol.TypeGathered, OK: boolPtr(false), Message: "node depleted"})
			return
		}
		k := min(w.cfg.GatherYield, n.Amount)
		n.Amount -= k
		p.items[n.Type] += k
		w.sendLocked(p, protocol.GatheredMsg{Type: protocol.TypeGathered, OK: boolPtr(true), Item: n.Type, Amount: k})
		w.sendInventoryLocked(p)
		return
	}
	w.sendLocked(p, protocol.GatheredMsg{Type: protocol.TypeGathered, OK: boolPtr(false), Message: "no ore node in range"})
}

func boolPtr(b bool) *bool { return &b }

func (w *World) tradeLocked(p *player, m protocol.TradingReq) {
	fail := func(msg string) {
		w.sendLocked(p, protocol.TradingResultMsg{Type: protocol.TypeTrading, Action: m.Action, OK: false, Message: msg, ListingID: m.ListingID})
	}
	if m.Action == protocol.ActionListings {
		out := make([]protocol.Listing, 0, len(w.order))
		for _, id := range w.order {
			out = append(out, w.listings[id].Listing)
		}
		w.sendLocked(p, protocol.TradingListingsMsg{Type: protocol.TypeTrading, Action: protocol.ActionListings, Listings: out})
		return
	}
	if !w.inTradingFacilityLocked(p) {
		fail("not at a trading post")
		return
	}
	switch m.Action {
	case protocol.ActionCreate:
		if m.Quantity <= 0 || m.Price <= 0 {
			fail("quantity and price must be positive")
			return
		}
		if p.items[m.Item] < m.Quantity {
			fail("insufficient items")
			return
		}
		p.items[m.Item] -= m.Quantity
		w.seq++
		l := &listing{
			Listing: protocol.Listing{
				ID:        fmt.Sprintf("L%d", w.seq),
				Item:      m.Item,
				Quantity:  m.Quantity,
				UnitPrice: m.Price / m.Quantity,
				Price:     m.Price,
				Label:     fmt.Sprintf("%dx %s", m.Quantity, m.Item),
				Seller:    p.account,
				ExpiresAt: time.Now().Add(w.cfg.ListingTTL).Unix(),
			},
			sellerID: p.id,
		}
		w.listings[l.ID] = l
		w.order = append(w.order, l.ID)
		// The creator's acknowledgement carries only the order terms.
		ack := protocol.Listing{ID: l.ID, Item: l.Item, Quantity: l.Quantity, Price: l.Price}
		w.sendLocked(p, protocol.TradingResultMsg{Type: protocol.TypeTrading, Action: protocol.ActionCreate, OK: true, ListingID: l.ID, Listing: &ack})
		w.sendInventoryLocked(p)

	case protocol.ActionCancel:
		l := w.listings[m.ListingID]
		if l == nil {
			fail("no such listing")
			return
		}
		if l.sellerID != p.id {
			fail("not your listing")
			return
		}
		w.removeListingLocked(l.ID)
		p.items[l.Item] += l.Quantity
		w.sendLocked(p, protocol.TradingResultMsg{Type: protocol.TypeTrading, Action: protocol.ActionCancel, OK: true, ListingID: l.ID})
		w.sendInventoryLocked(p)

	case protocol.ActionBuy:
		l := w.listings[m.ListingID]
		if l == nil {
			fail("no such listing")
			return
		}
		if l.sellerID == p.id {
			fail("cannot buy your own listing")
			return
		}
		if p.currency < l.Price {
			fail("insufficient currency")
			return
		}
		w.removeListingLocked(l.ID)
		p.currency -= l.Price
		p.items[l.Item] += l.Quantity
		echo := l.ID
		if w.cfg.CorruptBuyEcho {
			echo = l.ID + "-x"
		}
		w.sendLocked(p, protocol.TradingResultMsg{Type: protocol.TypeTrading, Action: protocol.ActionBuy, OK: true, ListingID: echo})
		w.sendInventoryLocked(p)
		if seller := w.players[l.sellerID]; seller != nil {
			seller.bank += l.Price - Fee(l.Price, w.cfg.FeeBasisPoints)
			w.sendInventoryLocked(seller)
		}

	default:
		fail("unknown action " + m.Action)
	}
}

func (w *World) removeListingLocked(id string) {
	delete(w.listings, id)
	for i, v := range w.order {
		if v == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

func (w *World) adminLocked(p *player, m protocol.AdminMsg) {
	reply := protocol.AdminResultMsg{Type: protocol.TypeAdmin, Command: m.Command, Event: protocol.EventOK, ProfileID: m.ProfileID}
	if !p.admin {
		reply.Event = protocol.EventError
		reply.Message = "forbidden"
		w.sendLocked(p, reply)
		return
	}
	target := w.playerByProfileLocked(m.ProfileID)
	if target == nil {
		reply.Event = protocol.EventError
		reply.Message = "unknown profile"
		w.sendLocked(p, reply)
		return
	}
	switch m.Command {
	case protocol.CommandGrantCurrency:
		if m.Amount <= 0 {
			reply.Event = protocol.EventError
			reply.Message = "amount must be positive"
			break
		}
		target.currency += m.Amount
		w.sendInventoryLocked(target)
	case protocol.CommandTeleportSafe:
		zone, ok := w.safeZoneLocked(m.ZoneID)
		if !ok {
			reply.Event = protocol.EventError
			reply.Message = "unknown safe zone"
			break
		}
		target.pos = protocol.Vec2{X: zone.X, Y: zone.Y}
		if f := zone.Facilities.Trading; f != nil {
			target.pos = f.Center()
		}
		target.move = protocol.Vec2{}
		target.zone = zone.ID
		reply.ZoneID = zone.ID
	default:
		reply.Event = protocol.EventError
		reply.Message = "unknown command"
	}
	w.sendLocked(p, reply)
}

func (w *World) safeZoneLocked(id string) (protocol.SafeZone, bool) {
	for _, z := range w.cfg.SafeZones {
		if id == "" || z.ID == id {
			return z, true
		}
	}
	return protocol.SafeZone{}, false
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
