// Package delivery implements the Multi-Channel Delivery Engine
// (§4.8): SMS/Email enqueue with idempotency and suppression, a
// worker loop enforcing per-provider/tenant/domain rate limits and
// warmup caps, exponential-backoff retry with a dead-letter terminus,
// bulk job aggregation, and provider-event reconciliation.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// ErrRetryable marks a send failure the worker loop should classify as
// retry-eligible (429, 5xx, network) rather than permanently failed,
// mirroring pkg/provideradapter.ErrRetryable for the same distinction
// on the voice side.
var ErrRetryable = errors.New("delivery: retryable send error")

// SendResult is what a successful send returns.
type SendResult struct {
	ProviderMessageID string
}

// SMSSender dispatches one SMS through a carrier's REST API.
type SMSSender interface {
	Name() string
	SendSMS(ctx context.Context, m *models.Message) (*SendResult, error)
}

// EmailSender dispatches one email through an SMTP relay or an email
// provider API.
type EmailSender interface {
	Name() string
	SendEmail(ctx context.Context, m *models.Message) (*SendResult, error)
}

// TwilioSMSSender sends SMS through Twilio's Messages REST resource,
// the same request shape and signature scheme as
// pkg/provideradapter.TwilioAdapter uses for voice (§4.2), adapted to
// the messaging endpoint.
type TwilioSMSSender struct {
	accountSID string
	authToken  string
	httpClient *http.Client

	// baseURL defaults to Twilio's real API host; tests override it to
	// point at an httptest.Server.
	baseURL string
}

const twilioAPIBaseURL = "https://api.twilio.com"

// NewTwilioSMSSender constructs a sender from the account SID and auth
// token (read from env by the caller per §6's secret-via-env
// convention, never stored in YAML).
func NewTwilioSMSSender(accountSID, authToken string) *TwilioSMSSender {
	return &TwilioSMSSender{
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    twilioAPIBaseURL,
	}
}

func (t *TwilioSMSSender) Name() string { return "twilio" }

func (t *TwilioSMSSender) SendSMS(ctx context.Context, m *models.Message) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", m.To)
	form.Set("From", m.From)
	form.Set("Body", m.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, newFormBody(form))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio sms request failed: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: twilio sms returned %d", ErrRetryable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("twilio sms returned %d", resp.StatusCode)
	}

	var body struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &SendResult{ProviderMessageID: body.SID}, nil
}

// SMTPEmailSender sends email over SMTP after building an RFC 5322
// multipart/alternative message via emersion/go-message/mail, the same
// library the pack's email-composing example uses.
type SMTPEmailSender struct {
	cfg *config.DeliveryConfig
	dial func(addr string) (*smtp.Client, error)
}

// NewSMTPEmailSender constructs a sender from the delivery config's
// SMTP host/port/from-address.
func NewSMTPEmailSender(cfg *config.DeliveryConfig) *SMTPEmailSender {
	return &SMTPEmailSender{cfg: cfg, dial: smtp.Dial}
}

func (s *SMTPEmailSender) Name() string { return "smtp" }

func (s *SMTPEmailSender) SendEmail(ctx context.Context, m *models.Message) (*SendResult, error) {
	raw, err := buildMIMEMessage(m, s.cfg.SMTPFromAddr)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	client, err := s.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: smtp dial failed: %v", ErrRetryable, err)
	}
	defer client.Close()

	from := m.From
	if from == "" {
		from = s.cfg.SMTPFromAddr
	}
	if err := client.Mail(from); err != nil {
		return nil, fmt.Errorf("%w: smtp MAIL FROM failed: %v", ErrRetryable, err)
	}
	if err := client.Rcpt(m.To); err != nil {
		return nil, fmt.Errorf("smtp RCPT TO rejected: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: smtp DATA failed: %v", ErrRetryable, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%w: smtp write failed: %v", ErrRetryable, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: smtp close failed: %v", ErrRetryable, err)
	}
	return &SendResult{ProviderMessageID: m.MessageID}, nil
}

// buildMIMEMessage renders a models.Message into an RFC 5322
// multipart/alternative document with text/plain and text/html parts,
// following the pack's mail.CreateWriter composition pattern.
func buildMIMEMessage(m *models.Message, defaultFrom string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(m.Subject)

	from := m.From
	if from == "" {
		from = defaultFrom
	}
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddr, err := mail.ParseAddress(m.To)
	if err != nil {
		return nil, fmt.Errorf("parse to address %q: %w", m.To, err)
	}
	h.SetAddressList("To", []*mail.Address{toAddr})

	return renderParts(h, m)
}
