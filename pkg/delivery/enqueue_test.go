package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

type fakeEnqueueStore struct {
	idempotency  map[string]*models.IdempotencyRecord
	suppressions map[string]*models.Suppression
	messages     map[string]*models.Message
	bulkJobs     map[string]*models.BulkJob
	counters     map[string]int
}

func newFakeEnqueueStore() *fakeEnqueueStore {
	return &fakeEnqueueStore{
		idempotency:  map[string]*models.IdempotencyRecord{},
		suppressions: map[string]*models.Suppression{},
		messages:     map[string]*models.Message{},
		bulkJobs:     map[string]*models.BulkJob{},
		counters:     map[string]int{},
	}
}

func (f *fakeEnqueueStore) CheckIdempotency(ctx context.Context, key, hash string) (*models.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	rec, ok := f.idempotency[key]
	if !ok {
		f.idempotency[key] = &models.IdempotencyRecord{Key: key, RequestHash: hash}
		return nil, nil
	}
	if rec.RequestHash != hash {
		return rec, store.ErrIdempotencyConflict
	}
	return rec, nil
}

func (f *fakeEnqueueStore) RecordIdempotencyResult(ctx context.Context, key, messageID, bulkJobID string) error {
	if key == "" {
		return nil
	}
	rec := f.idempotency[key]
	rec.MessageID = messageID
	rec.BulkJobID = bulkJobID
	return nil
}

func (f *fakeEnqueueStore) GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error) {
	sup, ok := f.suppressions[address+"|"+string(channel)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sup, nil
}

func (f *fakeEnqueueStore) CreateMessage(ctx context.Context, m *models.Message) error {
	f.messages[m.MessageID] = m
	return nil
}

func (f *fakeEnqueueStore) IncrementMetricCounter(ctx context.Context, kind, outcome string) error {
	f.counters[kind+"|"+outcome]++
	return nil
}

func (f *fakeEnqueueStore) CreateBulkJob(ctx context.Context, job *models.BulkJob) error {
	f.bulkJobs[job.JobID] = job
	return nil
}

func (f *fakeEnqueueStore) IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error {
	job := f.bulkJobs[jobID]
	job.TotalsByStatus[string(status)]++
	return nil
}

func (f *fakeEnqueueStore) CountMessagesByStatus(ctx context.Context, status models.MessageStatus) (int64, error) {
	var n int64
	for _, m := range f.messages {
		if m.Status == status {
			n++
		}
	}
	return n, nil
}

func TestEnqueue_QueuesFreshMessage(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)

	res, err := e.Enqueue(context.Background(), &models.EnqueueMessageRequest{
		Channel: models.ChannelSMS, To: "+15555550100", Body: "hi",
	})
	require.NoError(t, err)
	assert.False(t, res.Deduped)
	assert.Equal(t, models.MessageQueued, res.Status)
	assert.Len(t, st.messages, 1)
}

func TestEnqueue_SuppressedAddressIsMarkedSuppressed(t *testing.T) {
	st := newFakeEnqueueStore()
	st.suppressions["+15555550100|sms"] = &models.Suppression{Address: "+15555550100", Channel: models.ChannelSMS}
	e := NewEngine(st, nil)

	res, err := e.Enqueue(context.Background(), &models.EnqueueMessageRequest{
		Channel: models.ChannelSMS, To: "+15555550100", Body: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageSuppressed, res.Status)
}

func TestEnqueue_IdempotencyKeyDedupesIdenticalRequest(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)
	req := &models.EnqueueMessageRequest{
		IdempotencyKey: "key-1", Channel: models.ChannelSMS, To: "+15555550100", Body: "hi",
	}

	first, err := e.Enqueue(context.Background(), req)
	require.NoError(t, err)

	second, err := e.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Deduped)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, st.messages, 1)
}

func TestEnqueue_IdempotencyKeyReusedWithDifferentBodyConflicts(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)

	_, err := e.Enqueue(context.Background(), &models.EnqueueMessageRequest{
		IdempotencyKey: "key-1", Channel: models.ChannelSMS, To: "+15555550100", Body: "hi",
	})
	require.NoError(t, err)

	_, err = e.Enqueue(context.Background(), &models.EnqueueMessageRequest{
		IdempotencyKey: "key-1", Channel: models.ChannelSMS, To: "+15555550100", Body: "different",
	})
	require.Error(t, err)
}

func TestEnqueue_RejectsUnknownChannel(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)
	_, err := e.Enqueue(context.Background(), &models.EnqueueMessageRequest{
		Channel: "carrier-pigeon", To: "x", Body: "hi",
	})
	require.Error(t, err)
}

func TestEnqueueBulk_CreatesOneMessagePerRecipient(t *testing.T) {
	st := newFakeEnqueueStore()
	templates := NewMemoryTemplateStore(&Template{ID: "promo", Text: "Hi {{name}}"})
	e := NewEngine(st, templates)

	jobID, results, err := e.EnqueueBulk(context.Background(), &models.BulkEnqueueRequest{
		Channel:    models.ChannelSMS,
		TemplateID: "promo",
		Recipients: []models.BulkRecipient{
			{To: "+15555550100", Variables: map[string]any{"name": "Ada"}},
			{To: "+15555550101", Variables: map[string]any{"name": "Lin"}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	assert.Len(t, results, 2)
	assert.Len(t, st.messages, 2)
	for _, res := range results {
		assert.Equal(t, models.MessageQueued, res.Status)
	}
}

func TestEnqueueBulk_IdempotencyKeyDedupesIdenticalRequest(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)
	req := &models.BulkEnqueueRequest{
		IdempotencyKey: "bulk-key-1",
		Channel:        models.ChannelSMS,
		Recipients: []models.BulkRecipient{
			{To: "+15555550100"},
			{To: "+15555550101"},
		},
	}

	jobID, results, err := e.EnqueueBulk(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	assert.Len(t, results, 2)
	assert.Len(t, st.messages, 2)
	assert.Len(t, st.bulkJobs, 1)

	dedupedJobID, dedupedResults, err := e.EnqueueBulk(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, jobID, dedupedJobID)
	assert.Nil(t, dedupedResults)
	assert.Len(t, st.messages, 2, "resubmitting the same bulk request must not create new Messages")
	assert.Len(t, st.bulkJobs, 1, "resubmitting the same bulk request must not create a new BulkJob")
}

func TestEnqueueBulk_IdempotencyKeyReusedWithDifferentBodyConflicts(t *testing.T) {
	st := newFakeEnqueueStore()
	e := NewEngine(st, nil)

	_, _, err := e.EnqueueBulk(context.Background(), &models.BulkEnqueueRequest{
		IdempotencyKey: "bulk-key-1",
		Channel:        models.ChannelSMS,
		Recipients:     []models.BulkRecipient{{To: "+15555550100"}},
	})
	require.NoError(t, err)

	_, _, err = e.EnqueueBulk(context.Background(), &models.BulkEnqueueRequest{
		IdempotencyKey: "bulk-key-1",
		Channel:        models.ChannelSMS,
		Recipients:     []models.BulkRecipient{{To: "+15555550102"}},
	})
	require.Error(t, err)
}
