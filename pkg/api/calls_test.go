package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doSigned(t *testing.T, srv http.Handler, secret, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Authorization", signedAuthHeader(secret, ts, method, path, body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestGetCall_ReturnsSeededCall(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	rec := doSigned(t, srv, secret, http.MethodGet, "/calls/call-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		OK   bool `json:"ok"`
		Call struct {
			ID string `json:"call_id"`
		} `json:"call"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "call-1", resp.Call.ID)
}

func TestGetCall_UnknownIDIsNotFound(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	rec := doSigned(t, srv, secret, http.MethodGet, "/calls/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOriginate_RequiresIdempotencyKeyHeader(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	body := []byte(`{"phone_number":"+15550001111"}`)
	rec := doSigned(t, srv, secret, http.MethodPost, "/calls", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOriginate_CreatesCall(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	body := []byte(`{"phone_number":"+15550001111"}`)
	req := httptest.NewRequest(http.MethodPost, "/calls", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "idem-1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Authorization", signedAuthHeader(secret, ts, http.MethodPost, "/calls", body))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Call struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"call"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+15550001111", resp.Call.PhoneNumber)
}

func TestUpdateScript_RejectsTerminalCall(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	// End the call first so it's terminal, then try to update its script.
	rec := doSigned(t, srv, secret, http.MethodPost, "/calls/call-1/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := []byte(`{"prompt":"new prompt"}`)
	rec = doSigned(t, srv, secret, http.MethodPost, "/calls/call-1/script", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEndCall_IsIdempotent(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	rec := doSigned(t, srv, secret, http.MethodPost, "/calls/call-1/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doSigned(t, srv, secret, http.MethodPost, "/calls/call-1/end", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListCalls_ReturnsSeededCall(t *testing.T) {
	srv, secret := newTestServerAndSecret(t)

	rec := doSigned(t, srv, secret, http.MethodGet, "/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Calls []struct {
			ID string `json:"call_id"`
		} `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "call-1", resp.Calls[0].ID)
}

