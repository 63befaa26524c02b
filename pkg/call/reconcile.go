package call

import (
	"context"
	"fmt"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// HandleCarrierEvent reconciles one normalized carrier webhook (§6's
// provider-neutral envelope) against the call's current state (§4.3).
// Events for "digits" and "stream.frame" are routed by the composition
// root directly to the Digit Capture Engine and Stream Pump instead of
// here, since this orchestrator only owns the top-level state machine.
//
// A duplicate delivery (same call_id/event_type/carrier_event_seq_or_hash
// within the 2s dedupe window) is silently dropped. An event whose
// implied state ranks earlier than the call's current state is also
// silently dropped (store.ErrOutOfOrderTransition) — both are expected,
// not error, outcomes of at-least-once carrier delivery.
func (o *Orchestrator) HandleCarrierEvent(ctx context.Context, ev models.CarrierEvent) error {
	dedupeKey := fmt.Sprintf("%s|%s|%s", ev.CallID, ev.EventType, ev.CarrierEventSeqOrHash)
	if o.dedupe.SeenRecently(dedupeKey) {
		return nil
	}

	switch ev.EventType {
	case models.CarrierEventRinging:
		return o.applyOrIgnore(ctx, ev.CallID, models.CallRinging, ev.Payload, nil)

	case models.CarrierEventAnswered:
		return o.handleAnswered(ctx, ev)

	case models.CarrierEventStatus:
		carrierStatus, _ := ev.Payload["carrier_status"].(string)
		return o.applyOrIgnore(ctx, ev.CallID, currentStatusFromCarrier(carrierStatus), ev.Payload, &store.CallTransitionUpdate{
			CarrierStatus: strPtr(carrierStatus),
		})

	case models.CarrierEventEnded:
		return o.handleEnded(ctx, ev)

	case models.CarrierEventMediaError:
		reason := "no_media"
		return o.applyOrIgnore(ctx, ev.CallID, models.CallFailed, ev.Payload, &store.CallTransitionUpdate{
			FailureReason: &reason,
		})

	default:
		return nil
	}
}

func (o *Orchestrator) handleAnswered(ctx context.Context, ev models.CarrierEvent) error {
	answeredBy, _ := ev.Payload["answered_by"].(string)

	if models.AnsweredBy(answeredBy) == models.AnsweredByMachine && o.cfg.MachinePolicy == "hangup" {
		reason := "answering_machine"
		return o.applyOrIgnore(ctx, ev.CallID, models.CallEnded, ev.Payload, &store.CallTransitionUpdate{
			FailureReason: &reason,
			AnsweredBy:    answeredByPtr(models.AnsweredByMachine),
		})
	}

	now := time.Now().UTC()
	call, err := o.store.GetCall(ctx, ev.CallID, false)
	if err != nil {
		return err
	}
	var answerDelayMs *int64
	if call.StartedAt == nil && !call.CreatedAt.IsZero() {
		delay := now.Sub(call.CreatedAt).Milliseconds()
		answerDelayMs = &delay
		if o.onSLOViolation != nil && o.cfg.SLOAnswerDelay > 0 && time.Duration(delay)*time.Millisecond > o.cfg.SLOAnswerDelay {
			o.onSLOViolation(ctx, ev.CallID, "answer_delay", map[string]any{"answer_delay_ms": delay})
		}
	}

	by := models.AnsweredByHuman
	if answeredBy != "" {
		by = models.AnsweredBy(answeredBy)
	}

	return o.applyOrIgnore(ctx, ev.CallID, models.CallAnswered, ev.Payload, &store.CallTransitionUpdate{
		StartedAt:     &now,
		AnswerDelayMs: answerDelayMs,
		AnsweredBy:    &by,
	})
}

func (o *Orchestrator) handleEnded(ctx context.Context, ev models.CarrierEvent) error {
	now := time.Now().UTC()
	call, err := o.store.GetCall(ctx, ev.CallID, false)
	if err != nil {
		return err
	}

	var durationMs *int64
	if call.StartedAt != nil {
		d := now.Sub(*call.StartedAt).Milliseconds()
		durationMs = &d
	}

	if o.onRecordingReady != nil {
		// TwilioAdapter.ParseWebhook lowercases every raw form field name,
		// so Twilio's RecordingUrl arrives as payload["recordingurl"]; other
		// carriers may populate the more obvious key directly.
		url, _ := ev.Payload["recording_url"].(string)
		if url == "" {
			url, _ = ev.Payload["recordingurl"].(string)
		}
		if url != "" {
			o.onRecordingReady(ctx, ev.CallID, url)
		}
	}

	return o.applyOrIgnore(ctx, ev.CallID, models.CallEnded, ev.Payload, &store.CallTransitionUpdate{
		EndedAt:    &now,
		DurationMs: durationMs,
	})
}

func (o *Orchestrator) applyOrIgnore(ctx context.Context, callID string, state models.CallStatus, data map[string]any, update *store.CallTransitionUpdate) error {
	err := o.store.AppendCallTransition(ctx, callID, state, data, update)
	if err == store.ErrOutOfOrderTransition {
		o.logger.Debug("dropping out-of-order carrier event", "call_id", callID, "state", state)
		return nil
	}
	return err
}

// currentStatusFromCarrier maps a raw carrier status string onto the
// closest matching internal state for a generic "status" webhook whose
// semantics vary by carrier (in-progress, completed, etc). Carriers
// that send dedicated ringing/answered/ended events never need this
// path; it exists for adapters whose only lifecycle signal is a single
// status field.
func currentStatusFromCarrier(carrierStatus string) models.CallStatus {
	switch carrierStatus {
	case "ringing":
		return models.CallRinging
	case "in-progress", "answered":
		return models.CallAnswered
	case "completed", "ended":
		return models.CallEnded
	case "failed", "busy", "no-answer", "canceled":
		return models.CallFailed
	default:
		return models.CallDialing
	}
}

func answeredByPtr(a models.AnsweredBy) *models.AnsweredBy { return &a }
