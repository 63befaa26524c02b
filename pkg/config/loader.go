package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the complete tarsy-voice.yaml file structure.
type YAMLConfig struct {
	Providers        []ProviderConfig     `yaml:"providers"`
	ProviderOrder    []string             `yaml:"provider_preference"`
	ProviderFailover *bool                `yaml:"provider_failover"`
	DigitProfiles    []DigitProfileConfig `yaml:"digit_profiles"`
	Compliance       *ComplianceConfig    `yaml:"compliance"`
	Queue            *QueueConfig         `yaml:"queue"`
	Retention        *RetentionConfig     `yaml:"retention"`
	SLO              *SLOYAMLConfig       `yaml:"slo"`
	Timers           *TimersYAMLConfig    `yaml:"timers"`
}

// SLOYAMLConfig holds Call Orchestrator SLO tripwire thresholds (§4.3).
type SLOYAMLConfig struct {
	FirstMediaMs  int `yaml:"first_media_ms"`
	AnswerDelayMs int `yaml:"answer_delay_ms"`
	STTFailures   int `yaml:"stt_failures"`
}

// TimersYAMLConfig holds call/stream timers not otherwise grouped.
type TimersYAMLConfig struct {
	FirstMediaTimeoutMs   int     `yaml:"first_media_timeout_ms"`
	RingTimeoutMs         int     `yaml:"ring_timeout_ms"`
	AudioTickMs           int     `yaml:"audio_tick_ms"`
	BargeInLevelThreshold float64 `yaml:"barge_in_level_threshold"`
	BargeInHoldMs         int     `yaml:"barge_in_hold_ms"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load tarsy-voice.yaml from configDir (env-var expanded)
//  2. Merge built-in defaults + user-defined configuration
//  3. Build registries (providers, digit profiles)
//  4. Load env-bound configuration (delivery, control plane)
//  5. Validate
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"providers", stats.Providers,
		"digit_profiles", stats.DigitProfiles)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	yamlCfg, err := loadYAMLFile(configDir, "tarsy-voice.yaml")
	if err != nil {
		return nil, NewLoadError("tarsy-voice.yaml", err)
	}

	providers := make([]*ProviderConfig, 0, len(yamlCfg.Providers))
	for i := range yamlCfg.Providers {
		p := yamlCfg.Providers[i]
		if p.WebhookValidation == "" {
			p.WebhookValidation = "strict"
		}
		providers = append(providers, &p)
	}

	failover := true
	if yamlCfg.ProviderFailover != nil {
		failover = *yamlCfg.ProviderFailover
	}
	providerRegistry := NewProviderRegistry(providers, yamlCfg.ProviderOrder, failover)

	profiles := BuiltinDigitProfiles()
	if len(yamlCfg.DigitProfiles) > 0 {
		overrides := make(map[string]*DigitProfileConfig, len(yamlCfg.DigitProfiles))
		for i := range yamlCfg.DigitProfiles {
			p := yamlCfg.DigitProfiles[i]
			overrides[p.Name] = &p
		}
		for i, p := range profiles {
			if override, ok := overrides[p.Name]; ok {
				if err := mergo.Merge(p, override, mergo.WithOverride); err != nil {
					return nil, fmt.Errorf("failed to merge digit profile %q: %w", p.Name, err)
				}
			}
			profiles[i] = p
		}
	}
	digitRegistry := NewDigitProfileRegistry(profiles)

	compliance := DefaultComplianceConfig()
	if yamlCfg.Compliance != nil {
		if err := mergo.Merge(compliance, yamlCfg.Compliance, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge compliance config: %w", err)
		}
	}

	queue := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queue, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	delivery, err := LoadDeliveryConfig()
	if err != nil {
		return nil, err
	}
	controlPlane, err := LoadControlPlaneConfig()
	if err != nil {
		return nil, err
	}
	llmClient, err := LoadLLMClientConfig()
	if err != nil {
		return nil, err
	}
	eventBus, err := LoadEventBusConfig()
	if err != nil {
		return nil, err
	}

	slo := SLOYAMLConfig{FirstMediaMs: 4000, AnswerDelayMs: 12000, STTFailures: 3}
	if yamlCfg.SLO != nil {
		if yamlCfg.SLO.FirstMediaMs > 0 {
			slo.FirstMediaMs = yamlCfg.SLO.FirstMediaMs
		}
		if yamlCfg.SLO.AnswerDelayMs > 0 {
			slo.AnswerDelayMs = yamlCfg.SLO.AnswerDelayMs
		}
		if yamlCfg.SLO.STTFailures > 0 {
			slo.STTFailures = yamlCfg.SLO.STTFailures
		}
	}

	timers := TimersYAMLConfig{
		FirstMediaTimeoutMs:   8000,
		RingTimeoutMs:         45000,
		AudioTickMs:           160,
		BargeInLevelThreshold: 0.35,
		BargeInHoldMs:         200,
	}
	if yamlCfg.Timers != nil {
		if yamlCfg.Timers.FirstMediaTimeoutMs > 0 {
			timers.FirstMediaTimeoutMs = yamlCfg.Timers.FirstMediaTimeoutMs
		}
		if yamlCfg.Timers.RingTimeoutMs > 0 {
			timers.RingTimeoutMs = yamlCfg.Timers.RingTimeoutMs
		}
		if yamlCfg.Timers.AudioTickMs > 0 {
			timers.AudioTickMs = yamlCfg.Timers.AudioTickMs
		}
		if yamlCfg.Timers.BargeInLevelThreshold > 0 {
			timers.BargeInLevelThreshold = yamlCfg.Timers.BargeInLevelThreshold
		}
		if yamlCfg.Timers.BargeInHoldMs > 0 {
			timers.BargeInHoldMs = yamlCfg.Timers.BargeInHoldMs
		}
	}

	return &Config{
		configDir:             configDir,
		ProviderRegistry:      providerRegistry,
		DigitProfileRegistry:  digitRegistry,
		Compliance:            compliance,
		Queue:                 queue,
		Retention:             retention,
		Delivery:              delivery,
		ControlPlane:          controlPlane,
		LLMClient:             llmClient,
		EventBus:              eventBus,
		SLOFirstMediaMs:       slo.FirstMediaMs,
		SLOAnswerDelayMs:      slo.AnswerDelayMs,
		SLOSTTFailures:        slo.STTFailures,
		FirstMediaTimeoutMs:   timers.FirstMediaTimeoutMs,
		RingTimeoutMs:         timers.RingTimeoutMs,
		AudioTickMs:           timers.AudioTickMs,
		BargeInLevelThreshold: timers.BargeInLevelThreshold,
		BargeInHoldMs:         timers.BargeInHoldMs,
	}, nil
}

func validate(cfg *Config) error {
	if len(cfg.ProviderRegistry.All()) == 0 {
		return NewValidationError("providers", "*", "", ErrMissingRequiredField)
	}
	if cfg.Compliance.Mode == ComplianceSafe && os.Getenv(cfg.Compliance.EncryptionKeyEnv) == "" {
		return NewValidationError("compliance", "encryption_key", cfg.Compliance.EncryptionKeyEnv, ErrMissingRequiredField)
	}
	return nil
}

func loadYAMLFile(configDir, filename string) (*YAMLConfig, error) {
	path := filepath.Join(configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
