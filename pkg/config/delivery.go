package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// DeliveryConfig configures the Multi-Channel Delivery Engine (§4.8).
// Bound directly from the OS environment via struct tags rather than
// tarsy-voice.yaml — it changes per-deployment (rate limits, warmup caps) more
// often than provider/profile configuration does.
type DeliveryConfig struct {
	QueueInterval time.Duration `env:"DELIVERY_QUEUE_INTERVAL" envDefault:"5s"`
	BatchSize     int           `env:"DELIVERY_BATCH_SIZE" envDefault:"50"`
	MaxRetries    int           `env:"DELIVERY_MAX_RETRIES" envDefault:"5"`
	RetryBaseMs   int           `env:"DELIVERY_RETRY_BASE_MS" envDefault:"30000"`
	RetryMaxMs    int           `env:"DELIVERY_RETRY_MAX_MS" envDefault:"3600000"`
	RetryJitterMs int           `env:"DELIVERY_RETRY_JITTER_MS" envDefault:"5000"`

	SMSRateLimitPerMinute      int `env:"SMS_RATE_LIMIT_PER_MIN" envDefault:"600"`
	EmailRateLimitProviderMin  int `env:"EMAIL_RATE_LIMIT_PROVIDER_PER_MIN" envDefault:"600"`
	EmailRateLimitTenantMin    int `env:"EMAIL_RATE_LIMIT_TENANT_PER_MIN" envDefault:"120"`
	EmailRateLimitDomainMin    int `env:"EMAIL_RATE_LIMIT_DOMAIN_PER_MIN" envDefault:"60"`

	EmailWarmupEnabled  bool `env:"EMAIL_WARMUP_ENABLED" envDefault:"false"`
	EmailWarmupMaxPerDay int `env:"EMAIL_WARMUP_MAX_PER_DAY" envDefault:"500"`

	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPFromAddr string `env:"SMTP_FROM_ADDR" envDefault:"noreply@example.com"`

	FromNumber string `env:"FROM_NUMBER"`

	// RedisAddr, when set, backs the delivery rate limiters with a
	// shared store across replicas instead of process-local buckets.
	RedisAddr string `env:"REDIS_ADDR"`

	// RecordingBucket, when set, enables optional pass-through upload of
	// call recordings to S3 (spec §1 non-goal: "optional pass-through
	// only", not a recording pipeline).
	RecordingBucket    string `env:"CALL_RECORDING_S3_BUCKET"`
	RecordingRegion    string `env:"CALL_RECORDING_S3_REGION" envDefault:"us-east-1"`
	RecordingAccessKey string `env:"CALL_RECORDING_S3_ACCESS_KEY"`
	RecordingSecretKey string `env:"CALL_RECORDING_S3_SECRET_KEY"`
	// RecordingEndpoint overrides the S3 endpoint for S3-compatible
	// services (MinIO, etc); empty uses AWS's default resolution.
	RecordingEndpoint string `env:"CALL_RECORDING_S3_ENDPOINT"`
}

// LoadDeliveryConfig parses DeliveryConfig from the process environment.
func LoadDeliveryConfig() (*DeliveryConfig, error) {
	cfg := &DeliveryConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, NewLoadError("environment(delivery)", err)
	}
	return cfg, nil
}
