package provideradapter_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
)

func TestTwilioAdapter_ParseWebhook(t *testing.T) {
	a := provideradapter.NewTwilioAdapter(config.ProviderConfig{Name: "twilio"})

	form := url.Values{"CallSid": {"CA123"}, "CallStatus": {"ringing"}}
	r, _ := http.NewRequest(http.MethodPost, "/webhooks/twilio/call-1/status", nil)
	evt, err := a.ParseWebhook(r, []byte(form.Encode()), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventRinging, evt.EventType)
	assert.Equal(t, "call-1", evt.CallID)
	assert.Equal(t, "twilio", evt.Provider)

	form = url.Values{"CallSid": {"CA123"}, "CallStatus": {"in-progress"}, "AnsweredBy": {"machine_start"}}
	evt, err = a.ParseWebhook(r, []byte(form.Encode()), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventAnswered, evt.EventType)
	assert.Equal(t, "machine", evt.Payload["answered_by"])

	form = url.Values{"CallSid": {"CA123"}, "Digits": {"4123#"}}
	evt, err = a.ParseWebhook(r, []byte(form.Encode()), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventDigits, evt.EventType)

	form = url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}}
	evt, err = a.ParseWebhook(r, []byte(form.Encode()), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventEnded, evt.EventType)
}

func TestVonageAdapter_ParseWebhook(t *testing.T) {
	a := provideradapter.NewVonageAdapter(config.ProviderConfig{Name: "vonage"})
	r, _ := http.NewRequest(http.MethodPost, "/webhooks/vonage/call-1/status", nil)

	evt, err := a.ParseWebhook(r, []byte(`{"uuid":"v-1","status":"ringing"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventRinging, evt.EventType)

	evt, err = a.ParseWebhook(r, []byte(`{"uuid":"v-1","status":"human"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventAnswered, evt.EventType)
	assert.Equal(t, "human", evt.Payload["answered_by"])

	evt, err = a.ParseWebhook(r, []byte(`{"uuid":"v-1","dtmf":"4123"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventDigits, evt.EventType)
	assert.Equal(t, "4123", evt.Payload["digits"])

	evt, err = a.ParseWebhook(r, []byte(`{"uuid":"v-1","status":"completed"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventEnded, evt.EventType)

	_, err = a.ParseWebhook(r, []byte(`not json`), "call-1")
	assert.Error(t, err)
}

func TestConnectAdapter_ParseWebhook(t *testing.T) {
	a := provideradapter.NewConnectAdapter(config.ProviderConfig{Name: "connect"})
	r, _ := http.NewRequest(http.MethodPost, "/webhooks/connect/call-1/status", nil)

	evt, err := a.ParseWebhook(r, []byte(`{"event":"ringing"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventRinging, evt.EventType)

	evt, err = a.ParseWebhook(r, []byte(`{"event":"answered","answered_by":"machine"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventAnswered, evt.EventType)
	assert.Equal(t, "machine", evt.Payload["answered_by"])

	evt, err = a.ParseWebhook(r, []byte(`{"event":"gather","digits":"4123"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventDigits, evt.EventType)

	evt, err = a.ParseWebhook(r, []byte(`{"event":"media_error"}`), "call-1")
	require.NoError(t, err)
	assert.Equal(t, models.CarrierEventMediaError, evt.EventType)
}
