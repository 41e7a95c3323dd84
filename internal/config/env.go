package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is what the launcher hands the harness through the environment.
type Env struct {
	WSURL          string        `env:"E2E_WS_URL" envDefault:"ws://127.0.0.1:8080/ws"`
	ConnectTimeout time.Duration `env:"E2E_CONNECT_TIMEOUT" envDefault:"5s"`
	OpTimeout      time.Duration `env:"E2E_OP_TIMEOUT" envDefault:"5s"`
	NavTimeout     time.Duration `env:"E2E_NAV_TIMEOUT" envDefault:"15s"`
	Scenario       string        `env:"E2E_SCENARIO"`
	DataDir        string        `env:"E2E_DATA_DIR" envDefault:"data/e2e"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
