package models

import "time"

// MessageChannel is SMS or Email (§4.8).
type MessageChannel string

const (
	ChannelSMS   MessageChannel = "sms"
	ChannelEmail MessageChannel = "email"
)

// MessageStatus is the delivery lifecycle of one SMS/Email message
// (§3). Exactly one status is terminal; once terminal the message is
// immutable except for provider events appended afterward, which never
// reopen queued/retry (§3 invariant).
type MessageStatus string

const (
	MessageQueued     MessageStatus = "queued"
	MessageSending    MessageStatus = "sending"
	MessageSent       MessageStatus = "sent"
	MessageRetry      MessageStatus = "retry"
	MessageFailed     MessageStatus = "failed"
	MessageDelivered  MessageStatus = "delivered"
	MessageBounced    MessageStatus = "bounced"
	MessageComplained MessageStatus = "complained"
	// MessageUnsubscribed is kept distinct from MessageComplained per
	// the §9 open question — see DESIGN.md.
	MessageUnsubscribed MessageStatus = "unsubscribed"
	MessageSuppressed   MessageStatus = "suppressed"
)

// IsTerminal reports whether a status accepts no further worker-driven
// transitions (provider reconciliation events may still append afterward).
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageSent, MessageFailed, MessageDelivered, MessageBounced,
		MessageComplained, MessageUnsubscribed, MessageSuppressed:
		return true
	default:
		return false
	}
}

// Message is one SMS or Email send (§3).
type Message struct {
	MessageID      string         `json:"message_id" db:"message_id"`
	Channel        MessageChannel `json:"channel" db:"channel"`
	To             string         `json:"to" db:"to_addr"`
	From           string         `json:"from" db:"from_addr"`
	Body           string         `json:"body,omitempty" db:"body"`
	Subject        string         `json:"subject,omitempty" db:"subject"`
	HTML           string         `json:"html,omitempty" db:"html"`
	Text           string         `json:"text,omitempty" db:"text"`
	TemplateID     string         `json:"template_id,omitempty" db:"template_id"`
	Variables      map[string]any `json:"variables,omitempty" db:"variables"`
	Status         MessageStatus  `json:"status" db:"status"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	BulkJobID      string         `json:"bulk_job_id,omitempty" db:"bulk_job_id"`
	TenantID       string         `json:"tenant_id,omitempty" db:"tenant_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	ProviderMsgID  string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// EnqueueMessageRequest is the common shape behind POST /sms and POST
// /emails (§4.9).
type EnqueueMessageRequest struct {
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Channel        MessageChannel `json:"channel"`
	To             string         `json:"to"`
	From           string         `json:"from,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	HTML           string         `json:"html,omitempty"`
	Text           string         `json:"text,omitempty"`
	Body           string         `json:"body,omitempty"`
	TemplateID     string         `json:"template_id,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	SendAt         *time.Time     `json:"send_at,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	BulkJobID      string         `json:"-"`
}

// BulkJob tracks aggregate delivery counters for a bulk send (§3).
type BulkJob struct {
	JobID           string         `json:"job_id" db:"job_id"`
	TemplateID      string         `json:"template_id,omitempty" db:"template_id"`
	TenantID        string         `json:"tenant_id,omitempty" db:"tenant_id"`
	TotalsByStatus  map[string]int `json:"totals_by_status" db:"-"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// BulkEnqueueRequest is the shape behind POST /sms/bulk and POST
// /emails/bulk.
type BulkEnqueueRequest struct {
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
	Channel        MessageChannel           `json:"channel"`
	From           string                   `json:"from,omitempty"`
	TemplateID     string                   `json:"template_id"`
	TenantID       string                   `json:"tenant_id,omitempty"`
	Recipients     []BulkRecipient          `json:"recipients"`
}

// BulkRecipient pairs a recipient address with its per-recipient
// template variables.
type BulkRecipient struct {
	To        string         `json:"to"`
	Variables map[string]any `json:"variables,omitempty"`
}

// SuppressionReason is why a recipient is suppressed (§3).
type SuppressionReason string

const (
	SuppressionBounce    SuppressionReason = "bounce"
	SuppressionComplaint SuppressionReason = "complaint"
	SuppressionManual    SuppressionReason = "manual"
)

// Suppression is a hard filter applied at enqueue and at send (§3, §4.8).
type Suppression struct {
	Address   string            `json:"address" db:"address"`
	Channel   MessageChannel    `json:"channel" db:"channel"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    string            `json:"source,omitempty" db:"source"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// IdempotencyRecord maps a client-supplied key to the effect it already
// produced (§3). (key, request_hash) is a function: reusing key with a
// different hash must fail with idempotency_conflict.
type IdempotencyRecord struct {
	Key         string    `json:"key" db:"key"`
	MessageID   string    `json:"message_id,omitempty" db:"message_id"`
	BulkJobID   string    `json:"bulk_job_id,omitempty" db:"bulk_job_id"`
	RequestHash string    `json:"request_hash" db:"request_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProviderEvent is a normalized vendor delivery callback (§4.8):
// delivered, bounced, complained, failed.
type ProviderEvent struct {
	MessageID     string    `json:"message_id"`
	ProviderMsgID string    `json:"provider_message_id,omitempty"`
	Outcome       string    `json:"outcome"` // delivered|bounced|complained|failed|unsubscribed
	Detail        string    `json:"detail,omitempty"`
	Ts            time.Time `json:"ts"`
}
