package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// WebhookDeliverer POSTs a JSON envelope to a fixed URL for any
// subscriber whose delivery_channel isn't a named transport (Slack,
// etc.) — the catch-all for "generic HTTP POST" fan-out.
type WebhookDeliverer struct {
	URL    string
	Client *http.Client
}

// NewWebhookDeliverer constructs a WebhookDeliverer posting to url.
func NewWebhookDeliverer(url string, client *http.Client) *WebhookDeliverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookDeliverer{URL: url, Client: client}
}

type webhookEnvelope struct {
	ID       string         `json:"id"`
	CallID   string         `json:"call_id"`
	Kind     string         `json:"kind"`
	Priority string         `json:"priority"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Deliver implements Deliverer.
func (w *WebhookDeliverer) Deliver(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(webhookEnvelope{
		ID:       n.ID,
		CallID:   n.CallID,
		Kind:     string(n.Kind),
		Priority: string(n.Priority),
		Payload:  n.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery: unexpected status %d", resp.StatusCode)
	}
	return nil
}
