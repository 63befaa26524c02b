package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// GetCall fetches one call by id, for the Control Plane API's
// `GET /calls/{id}` (§4.9).
func (o *Orchestrator) GetCall(ctx context.Context, callID string) (*models.Call, error) {
	return o.store.GetCall(ctx, callID, false)
}

// ListCalls returns a cursor page of calls for `GET /calls` (§4.9).
func (o *Orchestrator) ListCalls(ctx context.Context, filter models.ListCallsCursor) ([]*models.Call, string, error) {
	return o.store.ListCalls(ctx, filter)
}

// UpdateScript injects a new runtime prompt into an in-progress call
// (§4.9's `POST /calls/{id}/script`). Non-terminal calls only — a
// prompt update after the call has ended has nothing left to steer.
func (o *Orchestrator) UpdateScript(ctx context.Context, callID, prompt string) error {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return err
	}
	if call.Status.IsTerminal() {
		return fmt.Errorf("call %s is terminal: %w", callID, ErrCallTerminal)
	}
	return o.store.UpdatePrompt(ctx, callID, prompt)
}

// End hangs up an in-progress call at operator request (§4.9's
// `POST /calls/{id}/end`), terminating it at the adapter and
// transitioning it to Ended.
func (o *Orchestrator) End(ctx context.Context, callID string) error {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return err
	}
	if call.Status.IsTerminal() {
		return nil
	}

	if adapter, err := o.registry.Get(call.Provider); err == nil && call.ProviderCallID != "" {
		if err := adapter.Terminate(ctx, call.ProviderCallID); err != nil {
			o.logger.Warn("terminate failed during operator end", "call_id", callID, "error", err)
		}
	}

	reason := "operator_ended"
	return o.applyOrIgnore(ctx, callID, models.CallEnded, map[string]any{"reason": reason}, &store.CallTransitionUpdate{
		FailureReason: &reason,
	})
}

// RetryStream re-requests the current provider's media-control
// document to reconnect a dropped stream mid-call (§4.9's
// `POST /calls/{id}/stream/retry`), without changing the call's state.
func (o *Orchestrator) RetryStream(ctx context.Context, callID, host string) (string, error) {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return "", err
	}
	adapter, err := o.registry.Get(call.Provider)
	if err != nil {
		return "", err
	}
	doc, err := adapter.BuildAnswerDocument(ctx, callID, host)
	if err != nil {
		return "", err
	}
	if err := o.store.AppendCallTransition(ctx, callID, call.Status, map[string]any{
		"action": "stream_retry", "provider": call.Provider,
	}, &store.CallTransitionUpdate{}); err != nil && !errors.Is(err, store.ErrOutOfOrderTransition) {
		return "", err
	}
	return doc, nil
}

// FallbackStream switches an in-progress call's media stream to a
// different configured provider (§4.9's
// `POST /calls/{id}/stream/fallback`) when the current one is
// degraded, returning the new provider's media-control document.
func (o *Orchestrator) FallbackStream(ctx context.Context, callID, fallbackProvider, host string) (string, error) {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return "", err
	}
	adapter, err := o.registry.Get(fallbackProvider)
	if err != nil {
		return "", err
	}
	doc, err := adapter.BuildAnswerDocument(ctx, callID, host)
	if err != nil {
		return "", err
	}
	if err := o.store.AppendCallTransition(ctx, callID, call.Status, map[string]any{
		"action": "stream_fallback", "provider": fallbackProvider,
	}, &store.CallTransitionUpdate{Provider: &fallbackProvider}); err != nil && !errors.Is(err, store.ErrOutOfOrderTransition) {
		return "", err
	}
	return doc, nil
}

// AnswerInbound accepts a ringing inbound call (§4.9's
// `POST /inbound/{id}/answer`, §3: "Created on originate or inbound
// accept"), returning the media-control document the carrier expects.
func (o *Orchestrator) AnswerInbound(ctx context.Context, callID, host string) (string, error) {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return "", err
	}
	adapter, err := o.registry.Get(call.Provider)
	if err != nil {
		return "", err
	}
	doc, err := adapter.BuildAnswerDocument(ctx, callID, host)
	if err != nil {
		return "", err
	}
	if err := o.applyOrIgnore(ctx, callID, models.CallAnswered, map[string]any{"action": "inbound_answer"}, &store.CallTransitionUpdate{}); err != nil {
		return "", err
	}
	return doc, nil
}

// DeclineInbound rejects a ringing inbound call (§4.9's
// `POST /inbound/{id}/decline`), terminating it at the adapter and
// marking it Failed with reason "declined".
func (o *Orchestrator) DeclineInbound(ctx context.Context, callID string) error {
	call, err := o.store.GetCall(ctx, callID, false)
	if err != nil {
		return err
	}
	if adapter, err := o.registry.Get(call.Provider); err == nil && call.ProviderCallID != "" {
		if err := adapter.Terminate(ctx, call.ProviderCallID); err != nil {
			o.logger.Warn("terminate failed during inbound decline", "call_id", callID, "error", err)
		}
	}
	reason := "declined"
	return o.applyOrIgnore(ctx, callID, models.CallFailed, map[string]any{"reason": reason}, &store.CallTransitionUpdate{
		FailureReason: &reason,
	})
}

// ErrCallTerminal is returned when a Control Plane operation that only
// makes sense for an in-progress call targets one that has already ended.
var ErrCallTerminal = errors.New("call: already terminal")
