package protocol

// auth (client -> server)
type AuthMsg struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Account  string `json:"account"`
	Password string `json:"password"`
}

// input (client -> server). MoveX/MoveY lie in [-1,1]; not required normalized.
type InputMsg struct {
	Type  string  `json:"type"`
	MoveX float64 `json:"moveX"`
	MoveY float64 `json:"moveY"`
	AimX  float64 `json:"aimX"`
	AimY  float64 `json:"aimY"`
}

// gather (client -> server)
type GatherMsg struct {
	Type string `json:"type"`
}

// trading (client -> server)
type TradingReq struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Item      string `json:"item,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Price     int    `json:"price,omitempty"`
	ListingID string `json:"listingId,omitempty"`
}

// admin (client -> server, privileged)
type AdminMsg struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	ProfileID string `json:"profileId"`
	Amount    int    `json:"amount,omitempty"`
	ZoneID    string `json:"zoneId,omitempty"`
}
