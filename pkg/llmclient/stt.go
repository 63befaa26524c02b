package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// Transcript is one transcription result for a single buffered audio
// chunk handed to the Realtime Stream Pump's inbound side (§4.5).
type Transcript struct {
	Text       string
	Confidence float64
	Final      bool
}

// SpeechClient transcribes one chunk of raw µ-law audio.
type SpeechClient interface {
	Transcribe(ctx context.Context, audio []byte) (*Transcript, error)
}

// DeepgramSpeechClient calls a Deepgram-shaped prerecorded/streaming
// REST transcription endpoint over HTTP, the same opaque-REST-call
// shape as pkg/provideradapter.TwilioAdapter and pkg/delivery's
// senders use for their respective third-party APIs.
type DeepgramSpeechClient struct {
	cfg        *config.LLMClientConfig
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewDeepgramSpeechClient constructs a client from the LLM client
// config. The API key is read once from the configured env var per
// §6's secret-via-env convention.
func NewDeepgramSpeechClient(cfg *config.LLMClientConfig) *DeepgramSpeechClient {
	return &DeepgramSpeechClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.SpeechTimeout},
		apiKey:     os.Getenv(cfg.SpeechAPIKeyEnv),
		baseURL:    cfg.SpeechBaseURL,
	}
}

func (c *DeepgramSpeechClient) Transcribe(ctx context.Context, audio []byte) (*Transcript, error) {
	endpoint := fmt.Sprintf("%s/v1/listen?model=%s&encoding=mulaw&sample_rate=8000", c.baseURL, c.cfg.SpeechModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "audio/mulaw")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stt request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: stt returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stt returned %d", resp.StatusCode)
	}

	var body struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
		IsFinal bool `json:"is_final"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Results.Channels) == 0 || len(body.Results.Channels[0].Alternatives) == 0 {
		return &Transcript{Final: body.IsFinal}, nil
	}
	alt := body.Results.Channels[0].Alternatives[0]
	return &Transcript{Text: alt.Transcript, Confidence: alt.Confidence, Final: body.IsFinal}, nil
}
