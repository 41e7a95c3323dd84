package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one market run.
type Scenario struct {
	// Item restricts node selection to one ore type; empty takes any.
	Item            string `yaml:"item"`
	GatherAmount    int    `yaml:"gather_amount"`
	ListingQuantity int    `yaml:"listing_quantity"`
	ListingPrice    int    `yaml:"listing_price"`
	GrantAmount     int    `yaml:"grant_amount"`
	FeeBasisPoints  int    `yaml:"fee_basis_points"`

	// ZoneID picks the safe zone whose trading facility is used; empty
	// takes the first zone that has one.
	ZoneID string `yaml:"zone_id"`
	// ApproachOffsets are tried around the facility center, in order,
	// before the center itself.
	ApproachOffsets [][2]float64 `yaml:"approach_offsets"`
	// AllowTeleport lets admin sessions fall back to teleport-safe when
	// walking into the facility fails.
	AllowTeleport bool `yaml:"allow_teleport"`

	Nav Nav `yaml:"nav"`
}

type Nav struct {
	Epsilon           float64       `yaml:"epsilon"`
	StuckAfter        time.Duration `yaml:"stuck_after"`
	StateWait         time.Duration `yaml:"state_wait"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	NodeTolerance     float64       `yaml:"node_tolerance"`
	FacilityTolerance float64       `yaml:"facility_tolerance"`
}

func Defaults() Scenario {
	return Scenario{
		GatherAmount:    3,
		ListingQuantity: 2,
		ListingPrice:    90,
		GrantAmount:     200,
		FeeBasisPoints:  500,
		ApproachOffsets: [][2]float64{{-1.5, 0}, {1.5, 0}, {0, 1.5}, {0, -1.5}},
		AllowTeleport:   true,
		Nav: Nav{
			Epsilon:           0.02,
			StuckAfter:        1200 * time.Millisecond,
			StateWait:         250 * time.Millisecond,
			PollInterval:      50 * time.Millisecond,
			NodeTolerance:     0.8,
			FacilityTolerance: 0.8,
		},
	}
}

// Load reads a scenario file over the defaults. An empty path yields the
// defaults.
func Load(path string) (Scenario, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Scenario) Validate() error {
	var errs []error
	if s.GatherAmount <= 0 {
		errs = append(errs, errors.New("gather_amount must be positive"))
	}
	if s.ListingQuantity <= 0 || s.ListingQuantity > s.GatherAmount {
		errs = append(errs, fmt.Errorf("listing_quantity must be in 1..%d", s.GatherAmount))
	}
	if s.ListingPrice <= 0 {
		errs = append(errs, errors.New("listing_price must be positive"))
	}
	if s.GrantAmount < s.ListingPrice {
		errs = append(errs, fmt.Errorf("grant_amount %d cannot cover listing_price %d", s.GrantAmount, s.ListingPrice))
	}
	if s.FeeBasisPoints < 0 || s.FeeBasisPoints > 10000 {
		errs = append(errs, errors.New("fee_basis_points must be in 0..10000"))
	}
	return errors.Join(errs...)
}
