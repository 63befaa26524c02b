// Package call implements the Call Orchestrator (§4.3): the state
// machine owning a call's lifecycle, webhook reconciliation, originate
// retries, and SLO tripwires.
package call

import (
	"context"
	"crypto/sha1" //nolint:gosec // deterministic idempotency-key derivation, not a security boundary
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// callStore is the subset of *store.Store the orchestrator depends on.
type callStore interface {
	CreateCall(ctx context.Context, call *models.Call) error
	GetCall(ctx context.Context, callID string, includeDeleted bool) (*models.Call, error)
	AppendCallTransition(ctx context.Context, callID string, newState models.CallStatus, data map[string]any, update *store.CallTransitionUpdate) error
	UpdatePrompt(ctx context.Context, callID, prompt string) error
	ListCalls(ctx context.Context, filter models.ListCallsCursor) ([]*models.Call, string, error)
	CountActiveCalls(ctx context.Context) (int, error)
}

// Config carries the timing parameters of §4.3's state machine.
type Config struct {
	MaxOriginateAttempts int
	RetryBaseMs          int
	RetryMaxMs           int
	FirstMediaTimeout    time.Duration
	RingTimeout          time.Duration
	MachinePolicy        string // §9 open question, see DESIGN.md
	MaxConcurrentCalls   int    // 0 disables admission control

	SLOFirstMedia   time.Duration
	SLOAnswerDelay  time.Duration
	SLOSTTFailures  int
}

// Orchestrator drives call state transitions from originate requests
// and reconciled carrier webhooks (§4.3).
type Orchestrator struct {
	store    callStore
	registry *provideradapter.Registry
	cfg      Config
	dedupe   *dedupeWindow
	logger   *slog.Logger

	onSLOViolation   func(ctx context.Context, callID, kind string, detail map[string]any)
	onRecordingReady func(ctx context.Context, callID, recordingURL string)
}

// New constructs an Orchestrator.
func New(st callStore, registry *provideradapter.Registry, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		registry: registry,
		cfg:      cfg,
		dedupe:   newDedupeWindow(2 * time.Second),
		logger:   slog.Default(),
	}
}

// OnSLOViolation registers a callback fired when an SLO tripwire
// (§4.3) trips. The Event Bus wiring in the composition root uses this
// to publish `call.slo_violation`.
func (o *Orchestrator) OnSLOViolation(fn func(ctx context.Context, callID, kind string, detail map[string]any)) {
	o.onSLOViolation = fn
}

// OnRecordingReady registers a callback fired when a carrier's
// call.ended webhook carries a recording URL. The composition root
// uses this to hand the URL to the optional S3 pass-through uploader
// (§1 non-goal: "optional pass-through only", not a recording
// pipeline).
func (o *Orchestrator) OnRecordingReady(fn func(ctx context.Context, callID, recordingURL string)) {
	o.onRecordingReady = fn
}

// Originate places an outbound call (§4.3's `originate(req)`
// transition). It is idempotent on req.IdempotencyKey: a deterministic
// call id is derived from the key via UUIDv5, so a retried request
// with the same key lands on the same row instead of dialing twice.
func (o *Orchestrator) Originate(ctx context.Context, req models.OriginateRequest) (*models.Call, error) {
	callID := deriveCallID(req.IdempotencyKey)

	if existing, err := o.store.GetCall(ctx, callID, false); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if o.cfg.MaxConcurrentCalls > 0 {
		active, err := o.store.CountActiveCalls(ctx)
		if err != nil {
			return nil, err
		}
		if active >= o.cfg.MaxConcurrentCalls {
			return nil, ErrAdmissionRejected
		}
	}

	call := &models.Call{
		ID:           callID,
		PhoneNumber:  req.PhoneNumber,
		Direction:    directionOrDefault(req.Direction),
		Prompt:       req.Prompt,
		FirstMessage: req.FirstMessage,
		OwnerSubject: req.OwnerSubject,
		Status:       models.CallCreated,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.MaxOriginateAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	excluded := map[string]bool{}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		adapter, pickErr := o.registry.Pick(excluded)
		if pickErr != nil {
			lastErr = pickErr
			break
		}

		result, err := adapter.Originate(ctx, req, callID)
		if err == nil {
			call.Provider = adapter.Name()
			call.ProviderCallID = result.ProviderCallID
			providerName := adapter.Name()
			transErr := o.store.AppendCallTransition(ctx, callID, models.CallDialing, map[string]any{
				"provider_call_id": result.ProviderCallID,
				"attempt":          attempt,
			}, &store.CallTransitionUpdate{
				ProviderCallID: strPtr(result.ProviderCallID),
				Provider:       &providerName,
			})
			if transErr != nil {
				return nil, transErr
			}
			call.Status = models.CallDialing
			return call, nil
		}

		lastErr = err
		if !errors.Is(err, provideradapter.ErrRetryable) || attempt == maxAttempts {
			break
		}
		excluded[adapter.Name()] = true
		o.sleepBackoff(ctx, attempt)
	}

	reason := classifyOriginateFailure(lastErr)
	failMsg := map[string]any{"reason": reason, "error": errString(lastErr)}
	if err := o.store.AppendCallTransition(ctx, callID, models.CallFailed, failMsg, &store.CallTransitionUpdate{
		FailureReason: strPtr(reason),
	}); err != nil {
		return nil, err
	}
	call.Status = models.CallFailed
	call.FailureReason = reason
	return call, fmt.Errorf("originate exhausted %d attempts: %w", maxAttempts, lastErr)
}

func (o *Orchestrator) sleepBackoff(ctx context.Context, attempt int) {
	backoffMs := float64(o.cfg.RetryBaseMs) * math.Pow(2, float64(attempt-1))
	if backoffMs > float64(o.cfg.RetryMaxMs) {
		backoffMs = float64(o.cfg.RetryMaxMs)
	}
	jitter := time.Duration(rand.Int63n(int64(backoffMs) + 1)) * time.Millisecond
	select {
	case <-ctx.Done():
	case <-time.After(jitter):
	}
}

// classifyOriginateFailure maps an adapter error to one of §4.3's
// retryable/non-retryable originate failure reasons.
func classifyOriginateFailure(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, provideradapter.ErrRetryable) {
		return "permanent"
	}
	return "invalid_request"
}

func deriveCallID(idempotencyKey string) string {
	if idempotencyKey == "" {
		return uuid.New().String()
	}
	return uuid.NewHash(sha1.New(), uuid.NameSpaceOID, []byte(idempotencyKey), 5).String()
}

func directionOrDefault(d models.CallDirection) models.CallDirection {
	if d == "" {
		return models.DirectionOutbound
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func strPtr(s string) *string { return &s }

// ErrAdmissionRejected is returned by Originate when the configured
// concurrent-call ceiling is already met (§5).
var ErrAdmissionRejected = errors.New("call: admission rejected, at concurrent call limit")
