package provideradapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // Twilio's X-Twilio-Signature scheme is HMAC-SHA1 by protocol definition
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// TwilioAdapter talks to a Twilio-shaped REST API (Originate via the
// Calls resource, TwiML media-control documents, X-Twilio-Signature
// webhook validation).
type TwilioAdapter struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	authToken  string
}

// NewTwilioAdapter constructs the adapter from its provider config. The
// auth token is read once from the configured env var per §6's
// secret-via-env convention (never stored in YAML).
func NewTwilioAdapter(cfg config.ProviderConfig) *TwilioAdapter {
	return &TwilioAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		authToken:  os.Getenv(cfg.AuthTokenEnv),
	}
}

func (a *TwilioAdapter) Name() string { return a.cfg.Name }

func (a *TwilioAdapter) Originate(ctx context.Context, req models.OriginateRequest, callID string) (*OriginateResult, error) {
	form := url.Values{}
	form.Set("To", req.PhoneNumber)
	form.Set("From", a.cfg.FromNumber)
	form.Set("MachineDetection", "Enable")
	if a.cfg.MachineDetectionTimeout > 0 {
		form.Set("MachineDetectionTimeout", fmt.Sprintf("%d", int(a.cfg.MachineDetectionTimeout.Seconds())))
	}
	form.Set("Url", fmt.Sprintf("/webhooks/twilio/%s/answer", callID))
	form.Set("StatusCallback", fmt.Sprintf("/webhooks/twilio/%s/status", callID))

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/Accounts/" + a.cfg.AccountSID + "/Calls.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio originate request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: twilio originate returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twilio originate rejected (%d): %s", resp.StatusCode, string(body))
	}

	return &OriginateResult{ProviderCallID: callID}, nil
}

// twiMLResponse is the minimal TwiML document shape this adapter emits.
type twiMLResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect *twiMLConnect `xml:"Connect,omitempty"`
	Say     *twiMLSay     `xml:"Say,omitempty"`
	Gather  *twiMLGather  `xml:"Gather,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twiMLConnect struct {
	Stream twiMLStream `xml:"Stream"`
}

type twiMLStream struct {
	URL string `xml:"url,attr"`
}

type twiMLSay struct {
	Text string `xml:",chardata"`
}

type twiMLGather struct {
	Input            string   `xml:"input,attr"`
	FinishOnKey      string   `xml:"finishOnKey,attr,omitempty"`
	NumDigits        int      `xml:"numDigits,attr,omitempty"`
	Action           string   `xml:"action,attr"`
	Say              twiMLSay `xml:"Say"`
}

func renderTwiML(doc twiMLResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *TwilioAdapter) BuildAnswerDocument(ctx context.Context, callID, host string) (string, error) {
	streamURL := fmt.Sprintf("wss://%s/stream/%s", host, callID)
	return renderTwiML(twiMLResponse{Connect: &twiMLConnect{Stream: twiMLStream{URL: streamURL}}})
}

func (a *TwilioAdapter) ValidateWebhook(r *http.Request, body []byte) (WebhookValidation, error) {
	mode := a.cfg.WebhookValidation
	if mode == "" {
		mode = "strict"
	}
	if mode == "off" {
		return ValidationOK, nil
	}

	secret := os.Getenv(a.cfg.WebhookSecretEnv)
	sig := r.Header.Get("X-Twilio-Signature")
	expected := twilioSignature(secret, fullRequestURL(r), body)

	if hmac.Equal([]byte(sig), []byte(expected)) {
		return ValidationOK, nil
	}
	if mode == "warn" {
		return ValidationWarn, nil
	}
	return ValidationFail, fmt.Errorf("twilio webhook signature mismatch")
}

// twilioSignature reproduces Twilio's request validation scheme:
// base64(HMAC-SHA1(authToken, url + sorted "key=value" pairs from the
// form body concatenated with no separator)).
func twilioSignature(authToken, requestURL string, body []byte) string {
	values, _ := url.ParseQuery(string(body))
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := strings.Builder{}
	buf.WriteString(requestURL)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(values.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(buf.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func fullRequestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// ParseWebhook normalizes a Twilio status/gather callback (form-encoded
// CallSid/CallStatus/Digits/AnsweredBy parameters) into the
// provider-neutral envelope (§6).
func (a *TwilioAdapter) ParseWebhook(r *http.Request, body []byte, callID string) (models.CarrierEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return models.CarrierEvent{}, fmt.Errorf("twilio webhook: parse form body: %w", err)
	}

	payload := map[string]any{}
	for k := range values {
		payload[strings.ToLower(k)] = values.Get(k)
	}

	evt := models.CarrierEvent{
		Provider:              a.cfg.Name,
		CallID:                callID,
		CarrierEventSeqOrHash: values.Get("CallSid") + "|" + values.Get("CallStatus") + "|" + values.Get("Digits"),
		Payload:               payload,
	}

	if digits := values.Get("Digits"); digits != "" {
		evt.EventType = models.CarrierEventDigits
		return evt, nil
	}
	if by := values.Get("AnsweredBy"); by != "" {
		evt.EventType = models.CarrierEventAnswered
		payload["answered_by"] = normalizeAnsweredBy(by)
		return evt, nil
	}

	switch values.Get("CallStatus") {
	case "ringing":
		evt.EventType = models.CarrierEventRinging
	case "in-progress":
		evt.EventType = models.CarrierEventAnswered
		payload["answered_by"] = "human"
	case "completed", "busy", "no-answer", "canceled", "failed":
		evt.EventType = models.CarrierEventEnded
	default:
		evt.EventType = models.CarrierEventStatus
		payload["carrier_status"] = values.Get("CallStatus")
	}
	return evt, nil
}

func normalizeAnsweredBy(twilioValue string) string {
	if strings.HasPrefix(twilioValue, "machine") {
		return "machine"
	}
	if twilioValue == "human" {
		return "human"
	}
	return "unknown"
}

func (a *TwilioAdapter) Terminate(ctx context.Context, providerCallID string) error {
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/Accounts/" + a.cfg.AccountSID + "/Calls/" + providerCallID + ".json"
	form := url.Values{"Status": {"completed"}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.authToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: twilio terminate failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twilio terminate rejected (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (a *TwilioAdapter) SendDTMFResponse(ctx context.Context, callID string, plan *models.CollectionPlan) (string, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return renderTwiML(twiMLResponse{Hangup: &struct{}{}})
	}
	step := plan.Steps[0]
	return renderTwiML(twiMLResponse{
		Gather: &twiMLGather{
			Input:       "dtmf",
			FinishOnKey: "#",
			Action:      fmt.Sprintf("/webhooks/twilio/%s/gather", callID),
			Say:         twiMLSay{Text: step.StepPrompt},
		},
	})
}

func (a *TwilioAdapter) EmitTTS(ctx context.Context, callID, audioURL, sayText string) (string, error) {
	if audioURL != "" {
		return renderTwiML(twiMLResponse{
			Connect: &twiMLConnect{Stream: twiMLStream{URL: audioURL}},
		})
	}
	return renderTwiML(twiMLResponse{Say: &twiMLSay{Text: sayText}})
}
