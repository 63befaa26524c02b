package provideradapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

// ConnectAdapter talks to a cloud contact-center style Voice API whose
// media-control documents are a flat JSON action list rather than
// carrier-specific markup, and whose webhooks carry a base64
// HMAC-SHA256 signature header. Distinct document/signature shapes
// from Twilio and Vonage exercise the registry's adapter-agnostic
// Adapter interface across three genuinely different wire formats.
type ConnectAdapter struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	authToken  string
}

func NewConnectAdapter(cfg config.ProviderConfig) *ConnectAdapter {
	return &ConnectAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		authToken:  os.Getenv(cfg.AuthTokenEnv),
	}
}

func (a *ConnectAdapter) Name() string { return a.cfg.Name }

type connectAction struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

type connectDocument struct {
	Actions []connectAction `json:"actions"`
}

func (a *ConnectAdapter) Originate(ctx context.Context, req models.OriginateRequest, callID string) (*OriginateResult, error) {
	payload := map[string]any{
		"destination_number":  req.PhoneNumber,
		"source_number":       a.cfg.FromNumber,
		"client_reference_id": callID,
		"answer_url":          fmt.Sprintf("/webhooks/connect/%s/answer", callID),
		"callback_url":        fmt.Sprintf("/webhooks/connect/%s/status", callID),
		"answering_machine_detection": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/voice/outbound-calls"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: connect originate request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: connect originate returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("connect originate rejected (%d): %s", resp.StatusCode, string(respBody))
	}

	return &OriginateResult{ProviderCallID: callID}, nil
}

func (a *ConnectAdapter) BuildAnswerDocument(ctx context.Context, callID, host string) (string, error) {
	doc := connectDocument{Actions: []connectAction{
		{Type: "stream", URL: fmt.Sprintf("wss://%s/stream/%s", host, callID)},
	}}
	out, err := json.Marshal(doc)
	return string(out), err
}

func (a *ConnectAdapter) ValidateWebhook(r *http.Request, body []byte) (WebhookValidation, error) {
	mode := a.cfg.WebhookValidation
	if mode == "" {
		mode = "strict"
	}
	if mode == "off" {
		return ValidationOK, nil
	}

	secret := os.Getenv(a.cfg.WebhookSecretEnv)
	sig := r.Header.Get("X-Connect-Signature")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if hmac.Equal([]byte(sig), []byte(expected)) {
		return ValidationOK, nil
	}
	if mode == "warn" {
		return ValidationWarn, nil
	}
	return ValidationFail, fmt.Errorf("connect webhook signature mismatch")
}

// connectWebhookBody is the subset of this adapter's status/gather
// callback JSON this adapter normalizes.
type connectWebhookBody struct {
	Event      string `json:"event"`
	Digits     string `json:"digits"`
	AnsweredBy string `json:"answered_by"`
}

// ParseWebhook normalizes a status/gather callback (flat JSON body)
// into the provider-neutral envelope (§6).
func (a *ConnectAdapter) ParseWebhook(r *http.Request, body []byte, callID string) (models.CarrierEvent, error) {
	var b connectWebhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return models.CarrierEvent{}, fmt.Errorf("connect webhook: parse json body: %w", err)
	}

	payload := map[string]any{"event": b.Event}
	evt := models.CarrierEvent{
		Provider:              a.cfg.Name,
		CallID:                callID,
		CarrierEventSeqOrHash: b.Event + "|" + b.Digits + "|" + b.AnsweredBy,
		Payload:               payload,
	}

	if b.Digits != "" {
		evt.EventType = models.CarrierEventDigits
		payload["digits"] = b.Digits
		return evt, nil
	}

	switch b.Event {
	case "ringing":
		evt.EventType = models.CarrierEventRinging
	case "answered", "in-progress":
		evt.EventType = models.CarrierEventAnswered
		by := b.AnsweredBy
		if by == "" {
			by = "human"
		}
		payload["answered_by"] = by
	case "completed", "failed", "no-answer", "busy":
		evt.EventType = models.CarrierEventEnded
	case "media_error":
		evt.EventType = models.CarrierEventMediaError
	default:
		evt.EventType = models.CarrierEventStatus
		payload["carrier_status"] = b.Event
	}
	return evt, nil
}

func (a *ConnectAdapter) Terminate(ctx context.Context, providerCallID string) error {
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/voice/calls/" + providerCallID + "/terminate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: connect terminate failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("connect terminate rejected (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (a *ConnectAdapter) SendDTMFResponse(ctx context.Context, callID string, plan *models.CollectionPlan) (string, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return `{"actions":[{"type":"hangup"}]}`, nil
	}
	step := plan.Steps[0]
	doc := connectDocument{Actions: []connectAction{
		{Type: "say", Text: step.StepPrompt},
		{Type: "gather_digits", URL: fmt.Sprintf("/webhooks/connect/%s/gather", callID)},
	}}
	out, err := json.Marshal(doc)
	return string(out), err
}

func (a *ConnectAdapter) EmitTTS(ctx context.Context, callID, audioURL, sayText string) (string, error) {
	var doc connectDocument
	if audioURL != "" {
		doc = connectDocument{Actions: []connectAction{{Type: "play", URL: audioURL}}}
	} else {
		doc = connectDocument{Actions: []connectAction{{Type: "say", Text: sayText}}}
	}
	out, err := json.Marshal(doc)
	return string(out), err
}
