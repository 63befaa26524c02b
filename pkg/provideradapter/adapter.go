// Package provideradapter implements the Provider Adapter Registry
// (§4.2): a carrier-neutral capability interface, one adapter per
// carrier family, sliding-window health tracking, and preference-list
// failover.
package provideradapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// WebhookValidation is the outcome of validating an inbound carrier
// webhook's signature, per the three validation modes in §4.2.
type WebhookValidation string

const (
	ValidationOK   WebhookValidation = "ok"
	ValidationWarn WebhookValidation = "warn"
	ValidationFail WebhookValidation = "fail"
)

// ErrRetryable marks an Originate failure the orchestrator should
// retry with backoff (§4.3's retryable reasons: network, 5xx,
// carrier congestion). Adapters wrap the underlying cause with this
// sentinel via fmt.Errorf's %w verb so callers can errors.Is against it.
var ErrRetryable = errors.New("provideradapter: retryable error")

// OriginateResult is what a successful Originate call returns.
type OriginateResult struct {
	ProviderCallID string
}

// Adapter is the capability set every carrier integration implements
// (§4.2). Machine-detection directive and timeout are adapter
// configuration, not part of this interface, since they are carried in
// the config.ProviderConfig the adapter was constructed with.
type Adapter interface {
	Name() string

	// Originate places an outbound call. Errors wrapping ErrRetryable
	// are eligible for the orchestrator's bounded-retry loop.
	Originate(ctx context.Context, req models.OriginateRequest, callID string) (*OriginateResult, error)

	// BuildAnswerDocument returns the media-control document (TwiML-like
	// markup for most carriers) the provider expects in response to its
	// initial webhook, pointing media back at host.
	BuildAnswerDocument(ctx context.Context, callID, host string) (string, error)

	// ValidateWebhook checks an inbound webhook's signature per the
	// adapter's configured config.WebhookValidationMode.
	ValidateWebhook(r *http.Request, body []byte) (WebhookValidation, error)

	// ParseWebhook normalizes a validated inbound webhook into the
	// provider-neutral envelope (§6). callID is taken from the route
	// (adapters embed it in the callback URL they register at
	// Originate/BuildAnswerDocument time).
	ParseWebhook(r *http.Request, body []byte, callID string) (models.CarrierEvent, error)

	// Terminate hangs up an in-progress call.
	Terminate(ctx context.Context, providerCallID string) error

	// SendDTMFResponse returns the media-control document prompting for
	// or acknowledging a digit collection plan.
	SendDTMFResponse(ctx context.Context, callID string, plan *models.CollectionPlan) (string, error)

	// EmitTTS returns the media-control document that plays sayText (or
	// fetches audioURL when non-empty) to the caller.
	EmitTTS(ctx context.Context, callID, audioURL, sayText string) (string, error)
}

// HealthSnapshot is a point-in-time read of one adapter's sliding
// error window (§4.2, §3).
type HealthSnapshot struct {
	ProviderName  string
	ErrorCount    int
	Degraded      bool
	CooldownUntil time.Time
	LastErrorAt   time.Time
	LastSuccessAt time.Time
}
