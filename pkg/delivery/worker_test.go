package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

type fakeWorkerStore struct {
	pending      []*models.Message
	suppressions map[string]*models.Suppression
	statuses     map[string]models.MessageStatus
	retryCounts  map[string]int
	nextAttempts map[string]time.Time
	counters     map[string]int
	dailyCounts  map[string]int64
	bulkTotals   map[string]map[string]int
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{
		suppressions: map[string]*models.Suppression{},
		statuses:     map[string]models.MessageStatus{},
		retryCounts:  map[string]int{},
		nextAttempts: map[string]time.Time{},
		counters:     map[string]int{},
		dailyCounts:  map[string]int64{},
		bulkTotals:   map[string]map[string]int{},
	}
}

func (f *fakeWorkerStore) ClaimSendableMessages(ctx context.Context, channel models.MessageChannel, limit int) ([]*models.Message, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeWorkerStore) GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error) {
	sup, ok := f.suppressions[address]
	if !ok {
		return nil, nil
	}
	return sup, nil
}

func (f *fakeWorkerStore) UpdateMessageStatus(ctx context.Context, messageID string, status models.MessageStatus, retryCount int, providerMsgID string) error {
	f.statuses[messageID] = status
	f.retryCounts[messageID] = retryCount
	return nil
}

func (f *fakeWorkerStore) SetMessageNextAttempt(ctx context.Context, messageID string, retryCount int, nextAttemptAt any) error {
	f.statuses[messageID] = models.MessageRetry
	f.retryCounts[messageID] = retryCount
	f.nextAttempts[messageID] = nextAttemptAt.(time.Time)
	return nil
}

func (f *fakeWorkerStore) IncrementMetricCounter(ctx context.Context, kind, outcome string) error {
	f.counters[kind+"|"+outcome]++
	return nil
}

func (f *fakeWorkerStore) GetMetricCounterToday(ctx context.Context, kind, outcome string) (int64, error) {
	return f.dailyCounts[kind+"|"+outcome], nil
}

func (f *fakeWorkerStore) IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error {
	if f.bulkTotals[jobID] == nil {
		f.bulkTotals[jobID] = map[string]int{}
	}
	f.bulkTotals[jobID][string(status)]++
	return nil
}

func (f *fakeWorkerStore) CountBulkJobPending(ctx context.Context, jobID string) (int, error) {
	return 0, nil
}

func (f *fakeWorkerStore) CompleteBulkJob(ctx context.Context, jobID string) error { return nil }

type fakeSMSSender struct {
	err error
}

func (f *fakeSMSSender) Name() string { return "fake" }

func (f *fakeSMSSender) SendSMS(ctx context.Context, m *models.Message) (*SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &SendResult{ProviderMessageID: "sms-123"}, nil
}

func testDeliveryConfig() *config.DeliveryConfig {
	return &config.DeliveryConfig{
		QueueInterval:              time.Second,
		BatchSize:                  50,
		MaxRetries:                 3,
		RetryBaseMs:                10,
		RetryMaxMs:                 1000,
		RetryJitterMs:              1,
		SMSRateLimitPerMinute:      600,
		EmailRateLimitProviderMin:  600,
		EmailRateLimitTenantMin:    120,
		EmailRateLimitDomainMin:    60,
	}
}

func TestWorker_SuccessfulSendMarksSent(t *testing.T) {
	st := newFakeWorkerStore()
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelSMS, To: "+15555550100"}}
	w := NewWorker(st, testDeliveryConfig(), NewMemoryRateLimiter(), &fakeSMSSender{}, nil)

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelSMS))
	assert.Equal(t, models.MessageSent, st.statuses["m1"])
}

func TestWorker_SuppressedMessageIsSkipped(t *testing.T) {
	st := newFakeWorkerStore()
	st.suppressions["+15555550100"] = &models.Suppression{Address: "+15555550100", Channel: models.ChannelSMS}
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelSMS, To: "+15555550100"}}
	w := NewWorker(st, testDeliveryConfig(), NewMemoryRateLimiter(), &fakeSMSSender{}, nil)

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelSMS))
	assert.Equal(t, models.MessageSuppressed, st.statuses["m1"])
}

func TestWorker_RetryableFailureSchedulesRetry(t *testing.T) {
	st := newFakeWorkerStore()
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelSMS, To: "+1", RetryCount: 0}}
	w := NewWorker(st, testDeliveryConfig(), NewMemoryRateLimiter(), &fakeSMSSender{err: ErrRetryable}, nil)

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelSMS))
	assert.Equal(t, models.MessageRetry, st.statuses["m1"])
	assert.Equal(t, 1, st.retryCounts["m1"])
}

func TestWorker_ExhaustedRetriesDeadLetters(t *testing.T) {
	st := newFakeWorkerStore()
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelSMS, To: "+1", RetryCount: 2}}
	cfg := testDeliveryConfig()
	cfg.MaxRetries = 3
	w := NewWorker(st, cfg, NewMemoryRateLimiter(), &fakeSMSSender{err: ErrRetryable}, nil)

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelSMS))
	assert.Equal(t, models.MessageFailed, st.statuses["m1"])
}

func TestWorker_NonRetryableFailureFailsImmediately(t *testing.T) {
	st := newFakeWorkerStore()
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelSMS, To: "+1"}}
	w := NewWorker(st, testDeliveryConfig(), NewMemoryRateLimiter(), &fakeSMSSender{err: errors.New("invalid number")}, nil)

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelSMS))
	assert.Equal(t, models.MessageFailed, st.statuses["m1"])
}

func TestWorker_EmailWarmupCapReschedules(t *testing.T) {
	st := newFakeWorkerStore()
	st.dailyCounts["message_email|sent"] = 500
	st.pending = []*models.Message{{MessageID: "m1", Channel: models.ChannelEmail, To: "a@example.com"}}
	cfg := testDeliveryConfig()
	cfg.EmailWarmupEnabled = true
	cfg.EmailWarmupMaxPerDay = 500
	w := NewWorker(st, cfg, NewMemoryRateLimiter(), nil, &fakeEmailSenderAlwaysOK{})

	require.NoError(t, w.RunOnce(context.Background(), models.ChannelEmail))
	assert.Equal(t, models.MessageRetry, st.statuses["m1"])
}

type fakeEmailSenderAlwaysOK struct{}

func (f *fakeEmailSenderAlwaysOK) Name() string { return "fake-smtp" }
func (f *fakeEmailSenderAlwaysOK) SendEmail(ctx context.Context, m *models.Message) (*SendResult, error) {
	return &SendResult{ProviderMessageID: "email-1"}, nil
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "gmail.com", emailDomain("user@gmail.com"))
	assert.Equal(t, "", emailDomain("not-an-email"))
}
