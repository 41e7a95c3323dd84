// Package fakeworld is a small in-process game server speaking the market
// protocol. It exists so the harness can be exercised without the real
// server: kinematics are a straight integration of the last input, with
// optional rectangular obstacles that stop movement outright.
package fakeworld

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"marketprobe/internal/protocol"
)

// Rect is an axis-aligned obstacle.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (r Rect) Contains(p protocol.Vec2) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

type Config struct {
	TickInterval   time.Duration
	Speed          float64 // world units per second at full input
	GatherRange    float64
	GatherYield    int // units per gather; default 1
	FeeBasisPoints int
	ListingTTL     time.Duration
	StartCurrency  int

	Spawn     protocol.Vec2
	SafeZones []protocol.SafeZone
	OreNodes  []protocol.OreNode
	Obstacles []Rect

	// FirstPlayerAdmin grants the admin flag to the first account to register.
	FirstPlayerAdmin bool
	AdminAccounts    []string

	// CorruptBuyEcho makes buy responses echo a listing id other than the
	// one requested.
	CorruptBuyEcho bool
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   20 * time.Millisecond,
		Speed:          12,
		GatherRange:    1.5,
		FeeBasisPoints: 500,
		ListingTTL:     time.Hour,
		Spawn:          protocol.Vec2{X: 0, Y: 0},
		SafeZones: []protocol.SafeZone{{
			ID: "haven", X: 20, Y: 0, Radius: 10,
			Facilities: protocol.Facilities{Trading: &protocol.Facility{X: 20, Y: 0, Radius: 4}},
		}},
		OreNodes: []protocol.OreNode{
			{ID: "n1", X: 6, Y: 4, Type: "iron", Amount: 10},
			{ID: "n2", X: -8, Y: 2, Type: "iron", Amount: 10},
		},
		FirstPlayerAdmin: true,
	}
}

type player struct {
	id        string
	profileID string
	account   string
	admin     bool
	zone      string

	pos  protocol.Vec2
	aim  protocol.Vec2
	move protocol.Vec2

	items    map[string]int
	currency int
	bank     int

	out chan []byte
}

type listing struct {
	protocol.Listing
	sellerID string
}

type World struct {
	cfg Config
	log *log.Logger

	mu       sync.Mutex
	seq      int
	joined   int
	players  map[string]*player
	nodes    []protocol.OreNode
	listings map[string]*listing
	order    []string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, logger *log.Logger) *World {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	if cfg.GatherRange <= 0 {
		cfg.GatherRange = def.GatherRange
	}
	if cfg.GatherYield <= 0 {
		cfg.GatherYield = 1
	}
	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = def.ListingTTL
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:      cfg,
		log:      logger,
		players:  map[string]*player{},
		nodes:    append([]protocol.OreNode(nil), cfg.OreNodes...),
		listings: map[string]*listing{},
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *World) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *World) run() {
	defer w.wg.Done()
	t := time.NewTicker(w.cfg.TickInterval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-w.stop:
			return
		case now := <-t.C:
			dt := now.Sub(last).Seconds()
			last = now
			w.step(dt)
		}
	}
}

func (w *World) step(dt float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := w.sortedIDsLocked()
	snap := protocol.StateMsg{Type: protocol.TypeState, Players: make([]protocol.PlayerState, 0, len(ids))}
	for _, id := range ids {
		p := w.players[id]
		mv := p.move
		if l := mv.Len(); l > 1 {
			mv = mv.Scale(1 / l)
		}
		next := p.pos.Add(mv.Scale(w.cfg.Speed * dt))
		if !w.blockedLocked(next) {
			p.pos = next
		}
		snap.Players = append(snap.Players, protocol.PlayerState{ID: p.id, X: p.pos.X, Y: p.pos.Y, AimX: p.aim.X, AimY: p.aim.Y})
	}
	b, _ := json.Marshal(snap)
	for _, id := range ids {
		w.pushLocked(w.players[id], b)
	}
}

func (w *World) blockedLocked(p protocol.Vec2) bool {
	for _, r := range w.cfg.Obstacles {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

func (w *World) sortedIDsLocked() []string {
	ids := make([]string, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pushLocked queues a frame; a client too slow to drain its queue loses
// frames rather than stalling the world.
func (w *World) pushLocked(p *player, b []byte) {
	select {
	case p.out <- b:
	default:
	}
}

func (w *World) sendLocked(p *player, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("marshal %T: %v", v, err)
		return
	}
	w.pushLocked(p, b)
}

func (w *World) join(account string) *player {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	w.joined++
	admin := w.cfg.FirstPlayerAdmin && w.joined == 1
	for _, a := range w.cfg.AdminAccounts {
		if a == account {
			admin = true
		}
	}
	p := &player{
		id:        fmt.Sprintf("P%d", w.seq),
		profileID: fmt.Sprintf("profile-%d", w.seq),
		account:   account,
		admin:     admin,
		pos:       w.cfg.Spawn,
		aim:       protocol.Vec2{X: 1},
		items:     map[string]int{},
		currency:  w.cfg.StartCurrency,
		out:       make(chan []byte, 512),
	}
	w.players[p.id] = p
	w.sendLocked(p, protocol.InitMsg{
		Type:      protocol.TypeInit,
		ID:        p.id,
		ProfileID: p.profileID,
		You:       protocol.SelfObs{X: p.pos.X, Y: p.pos.Y, AimX: p.aim.X, AimY: p.aim.Y},
		SafeZones: w.cfg.SafeZones,
		OreNodes:  w.nodes,
		Profile:   protocol.Profile{IsAdmin: p.admin},
	})
	w.sendInventoryLocked(p)
	w.log.Printf("join %s as %s admin=%v", account, p.id, admin)
	return p
}

func (w *World) leave(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.players, id)
}

func (w *World) sendInventoryLocked(p *player) {
	items := make(map[string]int, len(p.items))
	for k, v := range p.items {
		items[k] = v
	}
	w.sendLocked(p, protocol.InventoryMsg{
		Type:      protocol.TypeInventory,
		Inventory: protocol.Inventory{Items: items, Currency: p.currency},
		Bank:      protocol.Bank{Currency: p.bank},
	})
}

func (w *World) playerByProfileLocked(profileID string) *player {
	for _, p := range w.players {
		if p.profileID == profileID {
			return p
		}
	}
	return nil
}

func (w *World) inTradingFacilityLocked(p *player) bool {
	for _, z := range w.cfg.SafeZones {
		f := z.Facilities.Trading
		if f != nil && p.pos.Dist(f.Center()) <= f.Radius {
			return true
		}
	}
	return false
}

// Fee is the cut the market keeps from a sale at price.
func Fee(price, basisPoints int) int {
	return price * basisPoints / 10000
}

// Node returns the current state of an ore node.
func (w *World) Node(id string) (protocol.OreNode, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range w.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return protocol.OreNode{}, false
}

// Teleport places a player directly, bypassing movement.
func (w *World) Teleport(playerID string, to protocol.Vec2) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p := w.players[playerID]; p != nil {
		p.pos = to
	}
}

// Kick closes every player's connection.
func (w *World) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		close(p.out)
	}
	w.players = map[string]*player{}
}
