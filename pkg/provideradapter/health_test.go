package provideradapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
)

type fakeHealthStore struct {
	saved map[string]*models.ProviderHealth
}

func newFakeHealthStore() *fakeHealthStore {
	return &fakeHealthStore{saved: make(map[string]*models.ProviderHealth)}
}

func (f *fakeHealthStore) UpsertProviderHealth(ctx context.Context, h *models.ProviderHealth) error {
	f.saved[h.ProviderName] = h
	return nil
}

func (f *fakeHealthStore) GetProviderHealth(ctx context.Context, provider string) (*models.ProviderHealth, error) {
	if h, ok := f.saved[provider]; ok {
		return h, nil
	}
	return nil, assertNotFound{}
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func TestHealthTracker_TripsDegradedAfterThreshold(t *testing.T) {
	tracker := provideradapter.NewHealthTracker(100*time.Millisecond, 3, 50*time.Millisecond, time.Hour, newFakeHealthStore())

	assert.True(t, tracker.IsAvailable("twilio"))

	tracker.RecordError("twilio")
	tracker.RecordError("twilio")
	assert.True(t, tracker.IsAvailable("twilio"))

	tracker.RecordError("twilio")
	assert.False(t, tracker.IsAvailable("twilio"))

	snap := tracker.Snapshot("twilio")
	assert.True(t, snap.Degraded)
	assert.Equal(t, 3, snap.ErrorCount)
}

func TestHealthTracker_RecoversAfterCooldown(t *testing.T) {
	tracker := provideradapter.NewHealthTracker(time.Second, 1, 20*time.Millisecond, time.Hour, newFakeHealthStore())

	tracker.RecordError("vonage")
	assert.False(t, tracker.IsAvailable("vonage"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, tracker.IsAvailable("vonage"))
}

func TestRegistry_Pick_FallsBackToLeastRecentlyFailedWhenAllDegraded(t *testing.T) {
	tracker := provideradapter.NewHealthTracker(time.Second, 1, time.Hour, time.Hour, newFakeHealthStore())
	tracker.RecordError("twilio")
	time.Sleep(5 * time.Millisecond)
	tracker.RecordError("vonage")

	registry := provideradapter.NewRegistry(nil, []string{"twilio", "vonage"}, true, tracker)

	_, err := registry.Pick(map[string]bool{})
	require.Error(t, err) // nil adapter map, but failover path is still exercised
	assert.ErrorContains(t, err, `"twilio"`) // twilio failed first, so it is the one looked up

	assert.False(t, tracker.IsAvailable("twilio"))
	assert.False(t, tracker.IsAvailable("vonage"))
}

func TestRegistry_Pick_RejectsWhenFailoverDisabledAndAllDegraded(t *testing.T) {
	tracker := provideradapter.NewHealthTracker(time.Second, 1, time.Hour, time.Hour, newFakeHealthStore())
	tracker.RecordError("twilio")

	registry := provideradapter.NewRegistry(nil, []string{"twilio"}, false, tracker)
	_, err := registry.Pick(map[string]bool{})
	assert.Error(t, err)
}
