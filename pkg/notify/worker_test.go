package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/notify"
)

type fakeNotifyStore struct {
	mu      sync.Mutex
	pending []*models.Notification
	saved   map[string]*models.Notification
	metrics []string
}

func newFakeNotifyStore(pending ...*models.Notification) *fakeNotifyStore {
	return &fakeNotifyStore{pending: pending, saved: map[string]*models.Notification{}}
}

func (f *fakeNotifyStore) ClaimPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	batch := f.pending[:limit]
	f.pending = f.pending[limit:]
	return batch, nil
}

func (f *fakeNotifyStore) UpsertNotification(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[n.ID] = n
	return nil
}

func (f *fakeNotifyStore) IncrementMetricCounter(ctx context.Context, kind, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, kind+"/"+outcome)
	return nil
}

type fakeDeliverer struct {
	mu       sync.Mutex
	fail     bool
	attempts int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return errors.New("delivery refused")
	}
	return nil
}

func TestRunOnce_SuccessfulDeliveryMarksSent(t *testing.T) {
	n := &models.Notification{ID: "n1", Kind: models.KindCallFailed}
	st := newFakeNotifyStore(n)
	d := &fakeDeliverer{}
	w := notify.New(st, d, notify.Config{Batch: 10})

	require.NoError(t, w.RunOnce(context.Background()))

	saved := st.saved["n1"]
	require.NotNil(t, saved)
	assert.Equal(t, models.NotificationSent, saved.Status)
	assert.NotNil(t, saved.SentAt)
	require.NotNil(t, saved.DeliveryMs)
	assert.Contains(t, st.metrics, "call_failed/sent")
}

func TestRunOnce_FailureRetriesUntilMaxThenFails(t *testing.T) {
	n := &models.Notification{ID: "n2", Kind: models.KindCallFailed}
	st := newFakeNotifyStore(n)
	d := &fakeDeliverer{fail: true}
	w := notify.New(st, d, notify.Config{Batch: 10, RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, models.NotificationRetrying, st.saved["n2"].Status)
	assert.Equal(t, 1, st.saved["n2"].RetryCount)

	st.pending = append(st.pending, st.saved["n2"])
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, models.NotificationRetrying, st.saved["n2"].Status)
	assert.Equal(t, 2, st.saved["n2"].RetryCount)

	st.pending = append(st.pending, st.saved["n2"])
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, models.NotificationFailed, st.saved["n2"].Status)
	assert.Equal(t, 3, st.saved["n2"].RetryCount)
	assert.Contains(t, st.metrics, "call_failed/failed")
}
