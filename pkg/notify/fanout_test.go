package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/notify"
)

type fakeFanoutStore struct {
	upserted []*models.Notification
}

func (f *fakeFanoutStore) UpsertNotification(ctx context.Context, n *models.Notification) error {
	f.upserted = append(f.upserted, n)
	return nil
}

func TestFanout_SkipsSubscribersBelowPriorityFilter(t *testing.T) {
	st := &fakeFanoutStore{}
	subs := []models.Subscriber{
		{SubscriberID: "oncall", DeliveryChannel: "slack", PriorityFilter: models.PriorityUrgent},
		{SubscriberID: "dashboard", DeliveryChannel: "webhook", PriorityFilter: models.PriorityLow},
	}

	err := notify.Fanout(context.Background(), st, subs, "call-1", models.KindCallFailed, models.PriorityHigh, nil)
	require.NoError(t, err)

	require.Len(t, st.upserted, 1)
	assert.Equal(t, "dashboard", st.upserted[0].SubscriberID)
}

func TestFanout_UrgentReachesEverySubscriber(t *testing.T) {
	st := &fakeFanoutStore{}
	subs := []models.Subscriber{
		{SubscriberID: "oncall", DeliveryChannel: "slack", PriorityFilter: models.PriorityUrgent},
		{SubscriberID: "dashboard", DeliveryChannel: "webhook", PriorityFilter: models.PriorityLow},
	}

	err := notify.Fanout(context.Background(), st, subs, "call-2", models.KindCallFailed, models.PriorityUrgent, map[string]any{"reason": "ring_timeout"})
	require.NoError(t, err)

	require.Len(t, st.upserted, 2)
	for _, n := range st.upserted {
		assert.Equal(t, models.NotificationPending, n.Status)
		assert.Equal(t, "ring_timeout", n.Payload["reason"])
	}
}
