package config

import "time"

// ProviderConfig describes one configured carrier adapter (§4.2).
type ProviderConfig struct {
	Name string `yaml:"name"`
	// Kind selects the adapter implementation: "twilio", "connect", "vonage".
	Kind string `yaml:"kind"`

	AccountSID   string `yaml:"account_sid"`
	AuthTokenEnv string `yaml:"auth_token_env"`
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
	FromNumber   string `yaml:"from_number"`
	BaseURL      string `yaml:"base_url"`

	// MachineDetectionTimeout bounds the carrier's answering-machine
	// detection window. The twilio adapter sends it (in whole seconds)
	// when positive; the vonage and connect adapters do not send it.
	MachineDetectionTimeout time.Duration `yaml:"machine_detection_timeout"`

	// WebhookValidation selects strict|warn|off (§4.2).
	WebhookValidation string `yaml:"webhook_validation"`

	// HealthWindow is the sliding error window used to decide degraded
	// status (default 120s).
	HealthWindow time.Duration `yaml:"health_window"`
	// HealthErrorThreshold is the error count within HealthWindow that
	// trips degraded=true.
	HealthErrorThreshold int `yaml:"health_error_threshold"`
	// HealthCooldown is how long an adapter stays degraded once tripped.
	HealthCooldown time.Duration `yaml:"health_cooldown"`
}

// ProviderRegistry holds configured adapters in preference order.
// The order of Preference determines originate routing: the first
// non-degraded adapter wins (§4.2).
type ProviderRegistry struct {
	byName     map[string]*ProviderConfig
	preference []string
	failover   bool
}

// NewProviderRegistry builds a registry from configured providers, in the
// given preference order. failover controls whether, with all adapters
// degraded, the least-recently-failed one is still picked rather than
// rejecting the call outright.
func NewProviderRegistry(providers []*ProviderConfig, preference []string, failover bool) *ProviderRegistry {
	byName := make(map[string]*ProviderConfig, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	return &ProviderRegistry{byName: byName, preference: preference, failover: failover}
}

// Get returns the configuration for a named provider.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, NewValidationError("provider", name, "", ErrProviderNotFound)
	}
	return p, nil
}

// Preference returns provider names in originate-preference order.
func (r *ProviderRegistry) Preference() []string {
	out := make([]string, len(r.preference))
	copy(out, r.preference)
	return out
}

// FailoverEnabled reports whether originate may still pick a degraded
// adapter (the least-recently-failed one) when all are degraded.
func (r *ProviderRegistry) FailoverEnabled() bool {
	return r.failover
}

// All returns every configured provider, unordered.
func (r *ProviderRegistry) All() []*ProviderConfig {
	out := make([]*ProviderConfig, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}
