package provideradapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// VonageAdapter talks to a Vonage-shaped Voice API (NCCO JSON
// media-control documents, X-Vonage-Signature HMAC-SHA256 webhook
// validation).
type VonageAdapter struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	authToken  string
}

func NewVonageAdapter(cfg config.ProviderConfig) *VonageAdapter {
	return &VonageAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		authToken:  os.Getenv(cfg.AuthTokenEnv),
	}
}

func (a *VonageAdapter) Name() string { return a.cfg.Name }

// nccoAction is one step of a Vonage Call Control Object.
type nccoAction struct {
	Action   string          `json:"action"`
	Text     string          `json:"text,omitempty"`
	EventURL []string        `json:"eventUrl,omitempty"`
	Endpoint []nccoEndpoint  `json:"endpoint,omitempty"`
	MaxDigits int            `json:"maxDigits,omitempty"`
	SubmitOnHash bool        `json:"submitOnHash,omitempty"`
}

type nccoEndpoint struct {
	Type        string `json:"type"`
	URI         string `json:"uri,omitempty"`
	ContentType string `json:"content-type,omitempty"`
}

func (a *VonageAdapter) Originate(ctx context.Context, req models.OriginateRequest, callID string) (*OriginateResult, error) {
	payload := map[string]any{
		"to":              []map[string]string{{"type": "phone", "number": req.PhoneNumber}},
		"from":            map[string]string{"type": "phone", "number": a.cfg.FromNumber},
		"answer_url":      []string{fmt.Sprintf("/webhooks/vonage/%s/answer", callID)},
		"event_url":       []string{fmt.Sprintf("/webhooks/vonage/%s/status", callID)},
		"machine_detection": "hangup",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/calls"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: vonage originate request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: vonage originate returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vonage originate rejected (%d): %s", resp.StatusCode, string(respBody))
	}

	return &OriginateResult{ProviderCallID: callID}, nil
}

func (a *VonageAdapter) BuildAnswerDocument(ctx context.Context, callID, host string) (string, error) {
	ncco := []nccoAction{{
		Action: "connect",
		Endpoint: []nccoEndpoint{{
			Type: "websocket",
			URI:  fmt.Sprintf("wss://%s/stream/%s", host, callID),
			ContentType: "audio/l16;rate=16000",
		}},
	}}
	out, err := json.Marshal(ncco)
	return string(out), err
}

func (a *VonageAdapter) ValidateWebhook(r *http.Request, body []byte) (WebhookValidation, error) {
	mode := a.cfg.WebhookValidation
	if mode == "" {
		mode = "strict"
	}
	if mode == "off" {
		return ValidationOK, nil
	}

	secret := os.Getenv(a.cfg.WebhookSecretEnv)
	sig := r.Header.Get("X-Vonage-Signature")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if hmac.Equal([]byte(sig), []byte(expected)) {
		return ValidationOK, nil
	}
	if mode == "warn" {
		return ValidationWarn, nil
	}
	return ValidationFail, fmt.Errorf("vonage webhook signature mismatch")
}

// vonageWebhookBody is the subset of Vonage's event/DTMF/answer
// callback JSON this adapter normalizes.
type vonageWebhookBody struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
	DTMF   string `json:"dtmf"`
}

// ParseWebhook normalizes a Vonage event/DTMF callback (JSON body with
// uuid/status/dtmf fields) into the provider-neutral envelope (§6).
func (a *VonageAdapter) ParseWebhook(r *http.Request, body []byte, callID string) (models.CarrierEvent, error) {
	var b vonageWebhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return models.CarrierEvent{}, fmt.Errorf("vonage webhook: parse json body: %w", err)
	}

	payload := map[string]any{"uuid": b.UUID, "status": b.Status}
	evt := models.CarrierEvent{
		Provider:              a.cfg.Name,
		CallID:                callID,
		CarrierEventSeqOrHash: b.UUID + "|" + b.Status + "|" + b.DTMF,
		Payload:               payload,
	}

	if b.DTMF != "" {
		evt.EventType = models.CarrierEventDigits
		payload["digits"] = b.DTMF
		return evt, nil
	}

	switch b.Status {
	case "ringing", "started":
		evt.EventType = models.CarrierEventRinging
	case "answered":
		evt.EventType = models.CarrierEventAnswered
		payload["answered_by"] = "human"
	case "human":
		evt.EventType = models.CarrierEventAnswered
		payload["answered_by"] = "human"
	case "machine":
		evt.EventType = models.CarrierEventAnswered
		payload["answered_by"] = "machine"
	case "completed", "rejected", "busy", "cancelled", "failed", "timeout":
		evt.EventType = models.CarrierEventEnded
	default:
		evt.EventType = models.CarrierEventStatus
		payload["carrier_status"] = b.Status
	}
	return evt, nil
}

func (a *VonageAdapter) Terminate(ctx context.Context, providerCallID string) error {
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/calls/" + providerCallID
	payload, _ := json.Marshal(map[string]string{"action": "hangup"})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: vonage terminate failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vonage terminate rejected (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (a *VonageAdapter) SendDTMFResponse(ctx context.Context, callID string, plan *models.CollectionPlan) (string, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return `[{"action":"hangup"}]`, nil
	}
	step := plan.Steps[0]
	ncco := []nccoAction{
		{Action: "talk", Text: step.StepPrompt},
		{Action: "input", EventURL: []string{fmt.Sprintf("/webhooks/vonage/%s/dtmf", callID)}, MaxDigits: 16, SubmitOnHash: true},
	}
	out, err := json.Marshal(ncco)
	return string(out), err
}

func (a *VonageAdapter) EmitTTS(ctx context.Context, callID, audioURL, sayText string) (string, error) {
	var ncco []nccoAction
	if audioURL != "" {
		ncco = []nccoAction{{Action: "stream", Endpoint: []nccoEndpoint{{Type: "audio", URI: audioURL}}}}
	} else {
		ncco = []nccoAction{{Action: "talk", Text: sayText}}
	}
	out, err := json.Marshal(ncco)
	return string(out), err
}
