package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary
// object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	ProviderRegistry     *ProviderRegistry
	DigitProfileRegistry *DigitProfileRegistry
	Compliance           *ComplianceConfig
	Queue                *QueueConfig
	Retention            *RetentionConfig
	Delivery             *DeliveryConfig
	ControlPlane         *ControlPlaneConfig
	LLMClient            *LLMClientConfig
	EventBus             *EventBusConfig

	SLOFirstMediaMs     int
	SLOAnswerDelayMs    int
	SLOSTTFailures      int
	FirstMediaTimeoutMs int
	RingTimeoutMs       int
	AudioTickMs         int
	BargeInLevelThreshold float64
	BargeInHoldMs       int
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Providers     int
	DigitProfiles int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Providers:     len(c.ProviderRegistry.All()),
		DigitProfiles: len(BuiltinDigitProfiles()),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
