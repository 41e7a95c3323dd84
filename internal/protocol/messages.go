package protocol

import "encoding/json"

// control (server -> client)
type ControlMsg struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// init (server -> client, once after auth)
type InitMsg struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	ProfileID string     `json:"profileId"`
	You       SelfObs    `json:"you"`
	SafeZones []SafeZone `json:"safeZones"`
	OreNodes  []OreNode  `json:"oreNodes"`
	Profile   Profile    `json:"profile"`
}

type SelfObs struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	AimX   float64 `json:"aimX"`
	AimY   float64 `json:"aimY"`
	ZoneID string  `json:"zoneId"`
}

type Profile struct {
	IsAdmin bool `json:"isAdmin"`
}

type SafeZone struct {
	ID         string     `json:"id"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Radius     float64    `json:"radius"`
	Facilities Facilities `json:"facilities"`
}

type Facilities struct {
	Trading *Facility `json:"trading,omitempty"`
}

type Facility struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

func (f Facility) Center() Vec2 { return Vec2{X: f.X, Y: f.Y} }

type OreNode struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Type   string  `json:"type"`
	Amount int     `json:"amount"`
}

func (n OreNode) Pos() Vec2 { return Vec2{X: n.X, Y: n.Y} }

// state (server -> client, periodic broadcast)
type StateMsg struct {
	Type    string        `json:"type"`
	Players []PlayerState `json:"players"`
}

type PlayerState struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	AimX float64 `json:"aimX"`
	AimY float64 `json:"aimY"`
}

// Player returns the entry for id.
func (m StateMsg) Player(id string) (PlayerState, bool) {
	for _, p := range m.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// inventory (server -> client, on change)
type InventoryMsg struct {
	Type      string    `json:"type"`
	Inventory Inventory `json:"inventory"`
	Bank      Bank      `json:"bank"`
}

type Inventory struct {
	Items    map[string]int `json:"items"`
	Currency int            `json:"currency"`
}

// Count is the quantity held of item; missing kinds count as zero.
func (i Inventory) Count(item string) int { return i.Items[item] }

// Clone returns a copy that shares no map with i.
func (i Inventory) Clone() Inventory {
	out := Inventory{Currency: i.Currency, Items: make(map[string]int, len(i.Items))}
	for k, v := range i.Items {
		out.Items[k] = v
	}
	return out
}

type Bank struct {
	Currency int `json:"currency"`
}

// gathered (server -> client, ack of gather)
type GatheredMsg struct {
	Type    string `json:"type"`
	OK      *bool  `json:"ok,omitempty"`
	Item    string `json:"item,omitempty"`
	Amount  int    `json:"amount,omitempty"`
	Message string `json:"message,omitempty"`
}

// Listing is a server-managed sell order. Never mutated client-side.
type Listing struct {
	ID        string `json:"id"`
	Item      string `json:"item"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unitPrice,omitempty"`
	Price     int    `json:"price"`
	Label     string `json:"label,omitempty"`
	Seller    string `json:"seller,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`

	// Raw is the object the listing was decoded from, if any.
	Raw json.RawMessage `json:"-"`
}

func (l *Listing) UnmarshalJSON(b []byte) error {
	type plain Listing
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = Listing(p)
	l.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// trading action=listings (server -> client)
type TradingListingsMsg struct {
	Type     string    `json:"type"`
	Action   string    `json:"action"`
	Listings []Listing `json:"listings"`
}

// trading action=create|cancel|buy (server -> client)
type TradingResultMsg struct {
	Type      string   `json:"type"`
	Action    string   `json:"action"`
	OK        bool     `json:"ok"`
	Message   string   `json:"message,omitempty"`
	ListingID string   `json:"listingId,omitempty"`
	Listing   *Listing `json:"listing,omitempty"`
}

// admin (server -> client)
type AdminResultMsg struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Event     string `json:"event"`
	Message   string `json:"message,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
	ZoneID    string `json:"zoneId,omitempty"`
}

// error (server -> client, unsolicited)
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
