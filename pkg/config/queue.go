package config

import "time"

// QueueConfig contains call admission and sweep configuration.
// MaxConcurrentCalls and PollInterval are read by the composition root
// for the Call Orchestrator; the remaining fields are loaded and
// defaulted but no component reads them.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentCalls is the global limit of concurrently active calls
	// across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// PollInterval is how often the orchestrator's timeout sweep runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// CallTimeout is the maximum time a single call may occupy a worker.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight calls
	// to reach a terminal state during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned calls.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a call can go without a heartbeat
	// (last_interaction_at) before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentCalls:      200,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      250 * time.Millisecond,
		CallTimeout:             30 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         45 * time.Second,
	}
}
