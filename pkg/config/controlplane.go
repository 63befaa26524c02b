package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ControlPlaneConfig configures the HMAC-authenticated admin surface
// (§4.9, §6): `Authorization: hmac <ts>.<nonce>.<sig>`.
type ControlPlaneConfig struct {
	SecretEnv   string        `env:"API_SECRET_ENV" envDefault:"API_SECRET"`
	MaxSkew     time.Duration `env:"API_HMAC_MAX_SKEW" envDefault:"300s"`
	SSEHeartbeat time.Duration `env:"SSE_HEARTBEAT_INTERVAL" envDefault:"15s"`
}

// LoadControlPlaneConfig parses ControlPlaneConfig from the environment.
func LoadControlPlaneConfig() (*ControlPlaneConfig, error) {
	cfg := &ControlPlaneConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, NewLoadError("environment(control_plane)", err)
	}
	return cfg, nil
}
