package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

// FrameRecorder receives every frame a session reads or writes.
type FrameRecorder interface {
	Record(session, dir string, frame []byte)
}

const (
	DirIn  = "in"
	DirOut = "out"
)

type Config struct {
	URL  string
	Name string

	// Account and Password default to generated throwaway credentials.
	Account  string
	Password string

	ConnectTimeout   time.Duration
	DialAttempts     int
	HandshakeTimeout time.Duration
	InboxCapacity    int
	Freshness        time.Duration

	Logger   *log.Logger
	Recorder FrameRecorder
}

// Session is one authenticated connection and everything the harness
// knows about the player behind it.
type Session struct {
	cfg Config
	log *log.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	corr  *Correlator
	state *StateTracker

	mu        sync.RWMutex
	id        string
	profileID string
	zoneID    string
	isAdmin   bool
	spawn     protocol.Vec2
	spawnAim  protocol.Vec2
	safeZones []protocol.SafeZone
	oreNodes  []protocol.OreNode
	inv       protocol.Inventory
	bank      protocol.Bank
	err       error

	invNotify chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects, authenticates and waits for the init frame.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("empty ws url")
	}
	if cfg.Name == "" {
		cfg.Name = "session"
	}
	if cfg.Account == "" {
		cfg.Account = "e2e-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if cfg.Password == "" {
		cfg.Password = uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 12
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	conn, err := dialWithRetry(ctx, cfg.URL, cfg.ConnectTimeout, cfg.DialAttempts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	s := &Session{
		cfg:       cfg,
		log:       logger,
		conn:      conn,
		state:     NewStateTracker(cfg.Freshness),
		inv:       protocol.Inventory{Items: map[string]int{}},
		invNotify: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.corr = NewCorrelator(s.state, s.applyInventory, cfg.InboxCapacity)
	go s.readLoop()

	if err := s.handshake(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s handshake: %w", cfg.Name, err)
	}
	return s, nil
}

func dialWithRetry(ctx context.Context, wsURL string, timeout time.Duration, attempts int) (*websocket.Conn, error) {
	if !strings.HasPrefix(wsURL, "ws://") && !strings.HasPrefix(wsURL, "wss://") {
		return nil, fmt.Errorf("invalid ws url: %s", wsURL)
	}
	d := websocket.Dialer{HandshakeTimeout: timeout}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		conn, resp, err := d.DialContext(ctx, wsURL, http.Header{})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(180 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (s *Session) handshake(ctx context.Context) error {
	timeout := s.cfg.HandshakeTimeout
	if _, err := s.WaitFor(ctx, protocol.IsControl(protocol.EventAuthRequired), timeout); err != nil {
		return fmt.Errorf("await auth-required: %w", err)
	}
	if err := s.Send(protocol.AuthMsg{
		Type:     protocol.TypeAuth,
		Action:   protocol.ActionRegister,
		Account:  s.cfg.Account,
		Password: s.cfg.Password,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	env, err := s.WaitFor(ctx, protocol.IsType(protocol.TypeInit), timeout)
	if err != nil {
		return fmt.Errorf("await init: %w", err)
	}
	if err := protocol.ValidateInit(env.Raw); err != nil {
		return fault.Mismatch("init", "%v", err)
	}
	var init protocol.InitMsg
	if err := env.Decode(&init); err != nil {
		return err
	}

	s.mu.Lock()
	s.id = init.ID
	s.profileID = init.ProfileID
	s.zoneID = init.You.ZoneID
	s.isAdmin = init.Profile.IsAdmin
	s.spawn = protocol.Vec2{X: init.You.X, Y: init.You.Y}
	s.spawnAim = protocol.Vec2{X: init.You.AimX, Y: init.You.AimY}
	s.safeZones = append([]protocol.SafeZone(nil), init.SafeZones...)
	s.oreNodes = append([]protocol.OreNode(nil), init.OreNodes...)
	s.mu.Unlock()

	// The mirror is empty until the first inventory frame; callers read
	// "before" values from it as soon as Dial returns.
	if _, err := s.WaitFor(ctx, protocol.IsType(protocol.TypeInventory), timeout); err != nil {
		return fmt.Errorf("await inventory: %w", err)
	}

	s.log.Printf("%s: init id=%s profile=%s zone=%s admin=%v nodes=%d zones=%d",
		s.cfg.Name, init.ID, init.ProfileID, init.You.ZoneID, init.Profile.IsAdmin, len(init.OreNodes), len(init.SafeZones))
	return nil
}

func (s *Session) readLoop() {
	var cause error
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		if s.cfg.Recorder != nil {
			s.cfg.Recorder.Record(s.cfg.Name, DirIn, msg)
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			s.log.Printf("%s: drop frame: %v", s.cfg.Name, err)
			continue
		}
		if env.Type == protocol.TypeError {
			s.log.Printf("%s: server error: %s", s.cfg.Name, env.Message)
		}
		s.corr.Handle(env)
	}
	s.shutdown(cause)
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		err := fault.Closed(cause)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.corr.Close(err)
		close(s.done)
	})
}

// Close closes the socket and waits for the read loop to fail everything
// still pending.
func (s *Session) Close() {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
	<-s.done
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the reason the session ended, or nil while it is open.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Send writes one JSON frame.
func (s *Session) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return s.Err()
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fault.Closed(err)
	}
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Record(s.cfg.Name, DirOut, b)
	}
	return nil
}

// SendInput sends a movement intent paired with the last known aim.
func (s *Session) SendInput(move protocol.Vec2) error {
	aim := s.Aim()
	return s.Send(protocol.InputMsg{
		Type:  protocol.TypeInput,
		MoveX: move.X,
		MoveY: move.Y,
		AimX:  aim.X,
		AimY:  aim.Y,
	})
}

func (s *Session) WaitFor(ctx context.Context, pred protocol.Predicate, timeout time.Duration) (protocol.Envelope, error) {
	return s.corr.WaitFor(ctx, pred, timeout)
}

func (s *Session) WaitForState(ctx context.Context, timeout time.Duration) (protocol.StateMsg, error) {
	return s.state.WaitForState(ctx, timeout)
}

func (s *Session) applyInventory(m protocol.InventoryMsg) {
	inv := m.Inventory.Clone()
	s.mu.Lock()
	s.inv = inv
	s.bank = m.Bank
	s.mu.Unlock()
	select {
	case s.invNotify <- struct{}{}:
	default:
	}
}

// WaitInventory polls the inventory and bank mirrors until cond holds.
func (s *Session) WaitInventory(ctx context.Context, cond func(protocol.Inventory, protocol.Bank) bool, timeout time.Duration) (protocol.Inventory, protocol.Bank, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		inv, bank := s.Inventory(), s.Bank()
		if cond(inv, bank) {
			return inv, bank, nil
		}
		select {
		case <-ctx.Done():
			return inv, bank, ctx.Err()
		case <-s.done:
			return inv, bank, s.Err()
		case <-deadline.C:
			inv, bank = s.Inventory(), s.Bank()
			if cond(inv, bank) {
				return inv, bank, nil
			}
			return inv, bank, fault.Timeout("waiting for inventory", timeout)
		case <-s.invNotify:
		case <-tick.C:
		}
	}
}

func (s *Session) Name() string { return s.cfg.Name }

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) ProfileID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profileID
}

func (s *Session) ZoneID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoneID
}

// SetZone records a zone change reported by the server.
func (s *Session) SetZone(zoneID string) {
	if zoneID == "" {
		return
	}
	s.mu.Lock()
	s.zoneID = zoneID
	s.mu.Unlock()
}

func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

// Position is this player's entry in the latest snapshot, or the spawn
// point before any snapshot has mentioned it.
func (s *Session) Position() protocol.Vec2 {
	if p, ok := s.self(); ok {
		return protocol.Vec2{X: p.X, Y: p.Y}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spawn
}

func (s *Session) Aim() protocol.Vec2 {
	if p, ok := s.self(); ok {
		return protocol.Vec2{X: p.AimX, Y: p.AimY}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spawnAim
}

func (s *Session) self() (protocol.PlayerState, bool) {
	st, _, ok := s.state.Latest()
	if !ok {
		return protocol.PlayerState{}, false
	}
	return st.Player(s.ID())
}

func (s *Session) Inventory() protocol.Inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inv.Clone()
}

func (s *Session) Bank() protocol.Bank {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bank
}

func (s *Session) SafeZones() []protocol.SafeZone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.SafeZone(nil), s.safeZones...)
}

func (s *Session) OreNodes() []protocol.OreNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.OreNode(nil), s.oreNodes...)
}

// Correlator exposes the session's frame correlator.
func (s *Session) Correlator() *Correlator { return s.corr }
