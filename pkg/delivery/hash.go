package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// requestHash computes the stable_hash §4.8 requires for idempotency
// comparison: a deterministic digest over the fields that define what
// effect an enqueue request produces. encoding/json sorts map keys when
// marshaling, so the digest is stable across requests with identically
// keyed Variables regardless of map iteration order.
func requestHash(req *models.EnqueueMessageRequest) (string, error) {
	canon := struct {
		To         string         `json:"to"`
		From       string         `json:"from"`
		Subject    string         `json:"subject"`
		Body       string         `json:"body"`
		TemplateID string         `json:"template_id"`
		Variables  map[string]any `json:"variables"`
		HTML       string         `json:"html"`
		Text       string         `json:"text"`
		SendAt     *int64         `json:"send_at"`
	}{
		To:         req.To,
		From:       req.From,
		Subject:    req.Subject,
		Body:       req.Body,
		TemplateID: req.TemplateID,
		Variables:  req.Variables,
		HTML:       req.HTML,
		Text:       req.Text,
	}
	if req.SendAt != nil {
		unix := req.SendAt.Unix()
		canon.SendAt = &unix
	}

	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// bulkRequestHash is requestHash's counterpart for the bulk enqueue
// path (§8 seed scenario 3): the digest covers the whole recipient
// list rather than a single recipient, since one idempotency key
// guards the entire job.
func bulkRequestHash(req *models.BulkEnqueueRequest) (string, error) {
	type recipient struct {
		To        string         `json:"to"`
		Variables map[string]any `json:"variables"`
	}
	canon := struct {
		Channel    models.MessageChannel `json:"channel"`
		From       string                `json:"from"`
		TemplateID string                `json:"template_id"`
		TenantID   string                `json:"tenant_id"`
		Recipients []recipient           `json:"recipients"`
	}{
		Channel:    req.Channel,
		From:       req.From,
		TemplateID: req.TemplateID,
		TenantID:   req.TenantID,
	}
	for _, r := range req.Recipients {
		canon.Recipients = append(canon.Recipients, recipient{To: r.To, Variables: r.Variables})
	}

	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
