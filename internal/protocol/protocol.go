package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeControl   = "control"
	TypeAuth      = "auth"
	TypeInit      = "init"
	TypeState     = "state"
	TypeInventory = "inventory"
	TypeInput     = "input"
	TypeGather    = "gather"
	TypeGathered  = "gathered"
	TypeTrading   = "trading"
	TypeAdmin     = "admin"
	TypeError     = "error"
)

// Control events.
const (
	EventAuthRequired = "auth-required"
	EventOK           = "ok"
	EventError        = "error"
)

// Trading actions.
const (
	ActionListings = "listings"
	ActionCreate   = "create"
	ActionCancel   = "cancel"
	ActionBuy      = "buy"
	ActionRegister = "register"
)

// Admin commands.
const (
	CommandGrantCurrency = "grant-currency"
	CommandTeleportSafe  = "teleport-safe"
)

// Envelope carries the discriminator fields shared by every inbound frame,
// plus the raw frame for typed decoding.
type Envelope struct {
	Type      string `json:"type"`
	Event     string `json:"event,omitempty"`
	Action    string `json:"action,omitempty"`
	Command   string `json:"command,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Message   string `json:"message,omitempty"`
	ListingID string `json:"listingId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("frame without type")
	}
	e.Raw = append(json.RawMessage(nil), b...)
	return e, nil
}

// Decode unmarshals the full frame into v.
func (e Envelope) Decode(v any) error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("decode %s: empty frame", e.Type)
	}
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Succeeded reports an explicit ok=true. A missing ok field is not success.
func (e Envelope) Succeeded() bool {
	return e.OK != nil && *e.OK
}

// Predicate selects inbound frames.
type Predicate func(Envelope) bool

func IsType(t string) Predicate {
	return func(e Envelope) bool { return e.Type == t }
}

func IsControl(event string) Predicate {
	return func(e Envelope) bool { return e.Type == TypeControl && e.Event == event }
}

func IsTrading(action string) Predicate {
	return func(e Envelope) bool { return e.Type == TypeTrading && e.Action == action }
}

func IsAdmin(command string) Predicate {
	return func(e Envelope) bool { return e.Type == TypeAdmin && e.Command == command }
}
