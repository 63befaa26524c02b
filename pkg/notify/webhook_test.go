package notify_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/notify"
)

func TestWebhookDeliverer_PostsJSONEnvelope(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := notify.NewWebhookDeliverer(srv.URL, nil)
	err := d.Deliver(t.Context(), &models.Notification{
		ID:       "n1",
		CallID:   "call-1",
		Kind:     models.KindCallCompleted,
		Priority: models.PriorityNormal,
		Payload:  map[string]any{"duration_ms": float64(4200)},
	})
	require.NoError(t, err)

	assert.Equal(t, "call-1", got["call_id"])
	assert.Equal(t, "call_completed", got["kind"])
}

func TestWebhookDeliverer_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := notify.NewWebhookDeliverer(srv.URL, nil)
	err := d.Deliver(t.Context(), &models.Notification{ID: "n2"})
	assert.Error(t, err)
}
