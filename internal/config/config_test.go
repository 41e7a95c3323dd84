package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEnvDefaults(t *testing.T) {
	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if e.ConnectTimeout != 5*time.Second || e.NavTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults: %+v", e)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("E2E_WS_URL", "ws://game:9000/ws")
	t.Setenv("E2E_OP_TIMEOUT", "750ms")
	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if e.WSURL != "ws://game:9000/ws" || e.OpTimeout != 750*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", e)
	}
}

func TestLoadEnvError(t *testing.T) {
	t.Setenv("E2E_NAV_TIMEOUT", "soon")
	_, err := LoadEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestLoadShippedScenario(t *testing.T) {
	s, err := Load("../../configs/scenario.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Defaults()
	if s.ListingPrice != def.ListingPrice || s.Nav.StuckAfter != def.Nav.StuckAfter || len(s.ApproachOffsets) != 4 {
		t.Fatalf("shipped scenario drifted from defaults: %+v", s)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte("listing_price: 120\ngrant_amount: 300\nnav:\n  stuck_after: 80ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ListingPrice != 120 || s.GrantAmount != 300 || s.Nav.StuckAfter != 80*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.GatherAmount != 3 || s.Nav.Epsilon != 0.02 {
		t.Fatalf("defaults lost: %+v", s)
	}
}

func TestLoadRejectsInconsistentScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte("gather_amount: 1\nlisting_quantity: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "listing_quantity") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
