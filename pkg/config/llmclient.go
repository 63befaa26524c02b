package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// LLMClientConfig configures the opaque RPC clients to the STT/TTS
// sidecars and the OpenRouter-compatible summary client (§1, §6).
// Bound directly from the OS environment, matching DeliveryConfig —
// sidecar addresses and model names are deployment-specific, not part
// of tarsy-voice.yaml.
type LLMClientConfig struct {
	SpeechBaseURL  string        `env:"DEEPGRAM_BASE_URL" envDefault:"https://api.deepgram.com"`
	SpeechAPIKeyEnv string       `env:"DEEPGRAM_API_KEY_ENV" envDefault:"DEEPGRAM_API_KEY"`
	SpeechModel    string        `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	SpeechTimeout  time.Duration `env:"DEEPGRAM_TIMEOUT" envDefault:"10s"`

	TTSBaseURL   string        `env:"TTS_BASE_URL" envDefault:"https://api.deepgram.com"`
	TTSAPIKeyEnv string        `env:"TTS_API_KEY_ENV" envDefault:"DEEPGRAM_API_KEY"`
	TTSVoice     string        `env:"TTS_VOICE" envDefault:"aura-asteria-en"`
	TTSTimeout   time.Duration `env:"TTS_TIMEOUT" envDefault:"10s"`

	SummaryBaseURL   string        `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	SummaryAPIKeyEnv string        `env:"OPENROUTER_API_KEY_ENV" envDefault:"OPENROUTER_API_KEY"`
	SummaryModel     string        `env:"OPENROUTER_MODEL" envDefault:"openai/gpt-4o-mini"`
	SummaryMaxTokens int64         `env:"OPENROUTER_MAX_TOKENS" envDefault:"600"`
	SummaryTimeout   time.Duration `env:"OPENROUTER_TIMEOUT" envDefault:"20s"`
}

// LoadLLMClientConfig parses LLMClientConfig from the process environment.
func LoadLLMClientConfig() (*LLMClientConfig, error) {
	cfg := &LLMClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, NewLoadError("environment(llmclient)", err)
	}
	return cfg, nil
}
