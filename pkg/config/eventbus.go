package config

import "github.com/caarlos0/env/v11"

// EventBusConfig configures the Event Bus's optional cross-pod NATS
// bridge (§5). Bound from the OS environment, mirroring
// DeliveryConfig's RedisAddr: when NATSUrl is empty the Event Bus runs
// single-pod-only, fanning out purely from each pod's own Postgres
// LISTEN/NOTIFY connection.
type EventBusConfig struct {
	// NATSURL, when set, enables the cross-pod bridge: events this pod
	// resolves from Postgres NOTIFY are republished to NATS so other
	// pods' subscribers see them without polling the events table.
	NATSURL string `env:"EVENT_BUS_NATS_URL"`
}

// LoadEventBusConfig parses EventBusConfig from the process environment.
func LoadEventBusConfig() (*EventBusConfig, error) {
	cfg := &EventBusConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, NewLoadError("environment(event_bus)", err)
	}
	return cfg, nil
}
