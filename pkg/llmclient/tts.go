package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// TTSClient synthesizes one utterance into raw µ-law audio for the
// Realtime Stream Pump's outbound queue (§4.5).
type TTSClient interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// DeepgramTTSClient calls a Deepgram-shaped text-to-speech REST
// endpoint, returning raw µ-law audio already encoded at the carrier's
// expected sample rate.
type DeepgramTTSClient struct {
	cfg        *config.LLMClientConfig
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewDeepgramTTSClient constructs a client from the LLM client config.
func NewDeepgramTTSClient(cfg *config.LLMClientConfig) *DeepgramTTSClient {
	return &DeepgramTTSClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.TTSTimeout},
		apiKey:     os.Getenv(cfg.TTSAPIKeyEnv),
		baseURL:    cfg.TTSBaseURL,
	}
}

func (c *DeepgramTTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/speak?model=%s&encoding=mulaw&sample_rate=8000", c.baseURL, c.cfg.TTSVoice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: tts request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: tts returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tts returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: tts read failed: %v", ErrRetryable, err)
	}
	return audio, nil
}
