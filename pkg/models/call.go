// Package models holds the request/response DTOs for every persisted
// entity in the Call Orchestrator domain (§3).
package models

import "time"

// CallDirection is the direction of a telephony session.
type CallDirection string

const (
	DirectionOutbound CallDirection = "out"
	DirectionInbound  CallDirection = "in"
)

// CallStatus is the closed tagged variant replacing the source's
// stringly-typed status column (§9 redesign note). Persistence stores
// the tag name plus, for Failed, a reason payload carried separately.
type CallStatus string

const (
	CallCreated      CallStatus = "created"
	CallDialing      CallStatus = "dialing"
	CallRinging      CallStatus = "ringing"
	CallAnswered     CallStatus = "answered"
	CallStreaming    CallStatus = "streaming"
	CallDigitCapture CallStatus = "digit_capture"
	CallClosing      CallStatus = "closing"
	CallEnded        CallStatus = "ended"
	CallFailed       CallStatus = "failed"
)

// statusRank gives the total order over states used by the webhook
// reconciliation monotonicity guard (§4.3): an incoming event is applied
// only if its implied state does not rank lower than the current one.
// Failed and Ended are both terminal and share the highest rank so that
// a terminal call never re-opens.
var statusRank = map[CallStatus]int{
	CallCreated:      0,
	CallDialing:      1,
	CallRinging:      2,
	CallAnswered:     3,
	CallStreaming:    4,
	CallDigitCapture: 4, // nested sub-state of Streaming, same rank
	CallClosing:      5,
	CallEnded:        6,
	CallFailed:       6,
}

// RanksAtOrAfter reports whether `to` is not earlier than `from` in the
// state total order, as required by the monotonicity guard.
func RanksAtOrAfter(from, to CallStatus) bool {
	return statusRank[to] >= statusRank[from]
}

// IsTerminal reports whether status accepts no further transitions
// except post_terminal_event (notification-only, §3 invariant).
func (s CallStatus) IsTerminal() bool {
	return s == CallEnded || s == CallFailed
}

// AnsweredBy classifies who picked up the call.
type AnsweredBy string

const (
	AnsweredByHuman   AnsweredBy = "human"
	AnsweredByMachine AnsweredBy = "machine"
	AnsweredByUnknown AnsweredBy = "unknown"
)

// Call is the aggregate root of a telephony session (§3).
type Call struct {
	ID            string        `json:"call_id" db:"id"`
	PhoneNumber   string        `json:"phone_number" db:"phone_number"`
	Direction     CallDirection `json:"direction" db:"direction"`
	Prompt        string        `json:"prompt,omitempty" db:"prompt"`
	FirstMessage  string        `json:"first_message,omitempty" db:"first_message"`
	OwnerSubject  string        `json:"owner_subject,omitempty" db:"owner_subject"`
	Provider      string        `json:"provider" db:"provider"`
	ProviderCallID string       `json:"-" db:"provider_call_id"`
	Status        CallStatus    `json:"status" db:"status"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	CarrierStatus string        `json:"carrier_status,omitempty" db:"carrier_status"`

	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationMs    *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	RingMs        *int64     `json:"ring_ms,omitempty" db:"ring_ms"`
	AnswerDelayMs *int64     `json:"answer_delay_ms,omitempty" db:"answer_delay_ms"`

	Summary      string     `json:"summary,omitempty" db:"summary"`
	Analysis     string     `json:"analysis,omitempty" db:"analysis"`
	DigitSummary string     `json:"digit_summary,omitempty" db:"digit_summary"`
	DigitCount   int        `json:"digit_count" db:"digit_count"`
	LastOTP      []byte     `json:"-" db:"last_otp"` // encrypted when compliance=safe; never serialized
	LastOTPMasked *string   `json:"last_otp_masked,omitempty" db:"last_otp_masked"`
	ErrorCode    string     `json:"error_code,omitempty" db:"error_code"`
	AnsweredBy   AnsweredBy `json:"answered_by,omitempty" db:"answered_by"`

	// DeletedAt marks a call pruned by retention policy (soft delete).
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// OriginateRequest is the input to Call Orchestrator `originate(req)`.
type OriginateRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	PhoneNumber    string        `json:"phone_number"`
	Prompt         string        `json:"prompt,omitempty"`
	FirstMessage   string        `json:"first_message,omitempty"`
	OwnerSubject   string        `json:"owner_subject,omitempty"`
	Direction      CallDirection `json:"direction,omitempty"`
	MaxAttempts    int           `json:"max_attempts,omitempty"`
}

// ListCallsCursor is the cursor-paginated listing filter for GET /calls.
type ListCallsCursor struct {
	Cursor string
	Limit  int
	Status CallStatus
	Query  string
}
