package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// fanoutStore is the subset of *store.Store the fan-out step needs.
type fanoutStore interface {
	UpsertNotification(ctx context.Context, n *models.Notification) error
}

// Fanout creates one pending Notification per subscriber whose
// priority_filter the event's priority clears (§4.6: "Subscriber =
// (subscriber_id, delivery_channel, priority_filter)"). Subscribers
// whose priority_filter is more urgent than the event's priority are
// silently skipped — they asked not to be woken for anything less
// urgent.
func Fanout(ctx context.Context, st fanoutStore, subscribers []models.Subscriber, callID string, kind models.NotificationKind, priority models.NotificationPriority, payload map[string]any) error {
	for _, sub := range subscribers {
		if models.PriorityRank(priority) > models.PriorityRank(sub.PriorityFilter) {
			continue // event is lower priority than this subscriber wants
		}
		n := &models.Notification{
			ID:              uuid.NewString(),
			CallID:          callID,
			Kind:            kind,
			SubscriberID:    sub.SubscriberID,
			DeliveryChannel: sub.DeliveryChannel,
			Priority:        priority,
			Status:          models.NotificationPending,
			CreatedAt:       time.Now().UTC(),
			Payload:         payload,
		}
		if err := st.UpsertNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
