package delivery

import (
	"context"
	"fmt"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// reconcileStore is the subset of *store.Store the reconciliation
// path depends on.
type reconcileStore interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status models.MessageStatus, retryCount int, providerMsgID string) error
	SetSuppression(ctx context.Context, sup *models.Suppression) error
	IncrementMetricCounter(ctx context.Context, kind, outcome string) error
}

// outcomeStatus maps a normalized provider outcome to the message
// status it advances to. Apply enforces the forward-only rule (§4.8
// "Reconciliation is strictly forward: delivered only advances from
// sent, never reopens a terminal").
var outcomeStatus = map[string]models.MessageStatus{
	"delivered":    models.MessageDelivered,
	"bounced":      models.MessageBounced,
	"complained":   models.MessageComplained,
	"failed":       models.MessageFailed,
	"unsubscribed": models.MessageUnsubscribed,
}

// Reconciler applies normalized vendor delivery callbacks to messages
// (§4.8 "Provider event reconciliation").
type Reconciler struct {
	store reconcileStore
}

// NewReconciler constructs a Reconciler.
func NewReconciler(st reconcileStore) *Reconciler {
	return &Reconciler{store: st}
}

// Apply advances ev.MessageID's status per outcomeStatus, appends a
// suppression entry for bounce/complaint outcomes, and is a no-op if
// the message is already terminal other than sent, or if a delivered
// outcome arrives for a message that is not sent (forward-only
// reconciliation).
func (r *Reconciler) Apply(ctx context.Context, ev models.ProviderEvent) error {
	newStatus, ok := outcomeStatus[ev.Outcome]
	if !ok {
		return fmt.Errorf("delivery: unrecognized provider event outcome %q", ev.Outcome)
	}

	m, err := r.store.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return err
	}

	if m.Status.IsTerminal() && m.Status != models.MessageSent {
		_ = r.store.IncrementMetricCounter(ctx, "provider_event", "ignored_terminal")
		return nil
	}
	if newStatus == models.MessageDelivered && m.Status != models.MessageSent {
		_ = r.store.IncrementMetricCounter(ctx, "provider_event", "ignored_not_sent")
		return nil
	}

	if err := r.store.UpdateMessageStatus(ctx, ev.MessageID, newStatus, m.RetryCount, ev.ProviderMsgID); err != nil {
		return err
	}
	_ = r.store.IncrementMetricCounter(ctx, "provider_event", ev.Outcome)

	if ev.Outcome == "bounced" || ev.Outcome == "complained" {
		reason := models.SuppressionBounce
		if ev.Outcome == "complained" {
			reason = models.SuppressionComplaint
		}
		sup := &models.Suppression{
			Address: m.To,
			Channel: m.Channel,
			Reason:  reason,
			Source:  "provider_event",
		}
		if err := r.store.SetSuppression(ctx, sup); err != nil {
			return err
		}
	}

	return nil
}
