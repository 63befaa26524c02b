package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

func testTTSConfig() *config.LLMClientConfig {
	return &config.LLMClientConfig{TTSVoice: "aura-asteria-en", TTSAPIKeyEnv: "TEST_DEEPGRAM_KEY"}
}

func TestDeepgramTTSClient_ReturnsAudioBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte{0xAA, 0xBB, 0xCC})
	}))
	defer srv.Close()

	c := NewDeepgramTTSClient(testTTSConfig())
	c.baseURL = srv.URL
	c.httpClient = srv.Client()

	audio, err := c.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, audio)
}

func TestDeepgramTTSClient_RateLimitedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewDeepgramTTSClient(testTTSConfig())
	c.baseURL = srv.URL
	c.httpClient = srv.Client()

	_, err := c.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryable)
}

func TestDeepgramTTSClient_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewDeepgramTTSClient(testTTSConfig())
	c.baseURL = srv.URL
	c.httpClient = srv.Client()

	_, err := c.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryable)
}
