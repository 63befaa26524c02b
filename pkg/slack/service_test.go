package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	assert.NoError(t, s.Deliver(context.Background(), &models.Notification{CallID: "call-1"}))
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://example.com",
		})
		assert.NotNil(t, svc)
	})
}

// mockSlackServer answers conversations.history with no messages and
// chat.postMessage with a fresh timestamp, enough for Deliver to run
// end to end without touching the real Slack API.
func mockSlackServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"messages": []any{},
			"has_more": false,
		})
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1700000000.000100",
		})
	})
	return httptest.NewServer(mux)
}

func TestService_Deliver_PostsNewThreadWhenFingerprintNotFound(t *testing.T) {
	srv := mockSlackServer(t)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client, "https://dash.example.com")

	err := svc.Deliver(context.Background(), &models.Notification{
		CallID:   "call-42",
		Kind:     models.KindCallFailed,
		Priority: models.PriorityHigh,
	})
	require.NoError(t, err)
}

func TestService_Deliver_ThreadsUnderExistingFingerprint(t *testing.T) {
	mux := http.NewServeMux()
	var sawThreadTS string
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"text": "status for call-42", "ts": "1699999999.000100"},
			},
			"has_more": false,
		})
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		sawThreadTS = r.FormValue("thread_ts")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700000001.000100"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client, "https://dash.example.com")

	err := svc.Deliver(context.Background(), &models.Notification{
		CallID:   "call-42",
		Kind:     models.KindCallCompleted,
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sawThreadTS, "1699999999"))
}
