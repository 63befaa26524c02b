package models

import "time"

// ProviderHealth tracks one adapter's sliding error window (§3, §4.2).
// Maintained in memory with periodic persistence.
type ProviderHealth struct {
	ProviderName    string     `json:"provider_name" db:"provider_name"`
	ErrorCountWindow int       `json:"error_count_window" db:"error_count_window"`
	LastErrorAt     *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	Degraded        bool       `json:"degraded" db:"degraded"`
}

// CarrierEvent is the provider-neutral inbound webhook envelope (§6):
// carrier events are normalized at the edge into this shape before
// reaching the orchestrator.
type CarrierEventType string

const (
	CarrierEventRinging     CarrierEventType = "ringing"
	CarrierEventAnswered    CarrierEventType = "answered"
	CarrierEventDigits      CarrierEventType = "digits"
	CarrierEventStatus      CarrierEventType = "status"
	CarrierEventStreamFrame CarrierEventType = "stream.frame"
	CarrierEventEnded       CarrierEventType = "ended"
	CarrierEventMediaError  CarrierEventType = "media_error"
)

type CarrierEvent struct {
	Provider  string           `json:"provider"`
	EventType CarrierEventType `json:"event_type"`
	CallID    string           `json:"call_id"`
	// CarrierEventSeqOrHash dedupes duplicate deliveries within the 2s
	// reconciliation window (§4.3).
	CarrierEventSeqOrHash string         `json:"carrier_event_seq_or_hash,omitempty"`
	Payload               map[string]any `json:"payload"`
	ReceivedAt            time.Time      `json:"-"`
}
