package config

import "time"

// RetentionConfig controls data retention and cleanup behavior for the
// Persistence Layer (§4.1's "cleanup by age").
type RetentionConfig struct {
	// CallRetentionDays is how many days to keep calls in ENDED/FAILED
	// state, along with their transitions and transcripts, before
	// soft-deleting them.
	CallRetentionDays int `yaml:"call_retention_days"`

	// DigitEventTTL is the maximum age of raw DigitEvent rows before they
	// are hard-deleted, independent of the owning call's
	// retention window — compliance_mode=safe calls for faster pruning
	// of sensitive digit captures than of call metadata.
	DigitEventTTL time.Duration `yaml:"digit_event_ttl"`

	// NotificationTTL is the maximum age of delivered/failed Notification
	// rows before deletion.
	NotificationTTL time.Duration `yaml:"notification_ttl"`

	// ProviderHealthLogTTL is the maximum age of provider health samples
	// kept for trend analysis.
	ProviderHealthLogTTL time.Duration `yaml:"provider_health_log_ttl"`

	// EventTTL is the maximum age of orphaned Event Bus rows before
	// deletion. Per-call cleanup handles the normal case; this is a
	// safety net.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CallRetentionDays:    90,
		DigitEventTTL:        24 * time.Hour,
		NotificationTTL:      30 * 24 * time.Hour,
		ProviderHealthLogTTL: 7 * 24 * time.Hour,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      1 * time.Hour,
	}
}
