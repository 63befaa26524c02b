package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// enqueueStore is the subset of *store.Store the enqueue path depends
// on.
type enqueueStore interface {
	CheckIdempotency(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error)
	RecordIdempotencyResult(ctx context.Context, key, messageID, bulkJobID string) error
	GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	IncrementMetricCounter(ctx context.Context, kind, outcome string) error
	CreateBulkJob(ctx context.Context, job *models.BulkJob) error
	IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error
	CountMessagesByStatus(ctx context.Context, status models.MessageStatus) (int64, error)
}

// EnqueueResult is what Enqueue returns: either a freshly queued
// message id, or the id a prior identical request already produced
// (Deduped=true, §4.8 "existing record with same hash → return prior
// id as deduped=true").
type EnqueueResult struct {
	MessageID string
	Deduped   bool
	Status    models.MessageStatus
}

// Engine drives the enqueue, worker, and reconciliation paths of the
// Multi-Channel Delivery Engine (§4.8).
type Engine struct {
	store     enqueueStore
	templates TemplateStore
}

// NewEngine constructs an Engine. templates may be nil if no request
// ever names a template_id.
func NewEngine(st enqueueStore, templates TemplateStore) *Engine {
	return &Engine{store: st, templates: templates}
}

// Enqueue validates, resolves the template, checks idempotency and
// suppression, and inserts a queued (or suppressed) message (§4.8
// "Enqueue").
func (e *Engine) Enqueue(ctx context.Context, req *models.EnqueueMessageRequest) (*EnqueueResult, error) {
	if err := validateEnqueue(req); err != nil {
		return nil, err
	}

	subject, html, text, body, err := resolveTemplate(e.templates, req)
	if err != nil {
		return nil, err
	}

	hash, err := requestHash(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		rec, err := e.store.CheckIdempotency(ctx, req.IdempotencyKey, hash)
		if err != nil {
			if errors.Is(err, store.ErrIdempotencyConflict) {
				return nil, fmt.Errorf("delivery: idempotency_conflict: %w", err)
			}
			return nil, err
		}
		if rec != nil && rec.MessageID != "" {
			return &EnqueueResult{MessageID: rec.MessageID, Deduped: true}, nil
		}
	}

	status := models.MessageQueued
	sup, err := e.store.GetSuppression(ctx, req.To, req.Channel)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if sup != nil {
		status = models.MessageSuppressed
	}

	msg := &models.Message{
		MessageID:      uuid.NewString(),
		Channel:        req.Channel,
		To:             req.To,
		From:           req.From,
		Body:           body,
		Subject:        subject,
		HTML:           html,
		Text:           text,
		TemplateID:     req.TemplateID,
		Variables:      req.Variables,
		Status:         status,
		ScheduledAt:    req.SendAt,
		BulkJobID:      req.BulkJobID,
		TenantID:       req.TenantID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := e.store.RecordIdempotencyResult(ctx, req.IdempotencyKey, msg.MessageID, req.BulkJobID); err != nil {
			return nil, err
		}
	}

	outcome := "queued"
	if status == models.MessageSuppressed {
		outcome = "suppressed"
	}
	_ = e.store.IncrementMetricCounter(ctx, "message_"+string(req.Channel), outcome)

	if req.BulkJobID != "" {
		_ = e.store.IncrementBulkJobStatus(ctx, req.BulkJobID, status)
	}

	return &EnqueueResult{MessageID: msg.MessageID, Status: status}, nil
}

// EnqueueBulk creates the aggregate BulkJob row and then enqueues one
// Message per recipient under that job (§4.8 "Bulk jobs"). Idempotency
// is keyed on the job as a whole, not per recipient (§8 seed scenario
// 3): resubmitting the same Idempotency-Key with an identical request
// returns the same bulk_job_id and creates no new Messages; the same
// key with a changed body conflicts.
func (e *Engine) EnqueueBulk(ctx context.Context, req *models.BulkEnqueueRequest) (jobID string, results []*EnqueueResult, err error) {
	if len(req.Recipients) == 0 {
		return "", nil, errors.New("delivery: bulk request has no recipients")
	}

	hash, err := bulkRequestHash(req)
	if err != nil {
		return "", nil, err
	}

	if req.IdempotencyKey != "" {
		rec, err := e.store.CheckIdempotency(ctx, req.IdempotencyKey, hash)
		if err != nil {
			if errors.Is(err, store.ErrIdempotencyConflict) {
				return "", nil, fmt.Errorf("delivery: idempotency_conflict: %w", err)
			}
			return "", nil, err
		}
		if rec != nil && rec.BulkJobID != "" {
			return rec.BulkJobID, nil, nil
		}
	}

	job := &models.BulkJob{
		JobID:          uuid.NewString(),
		TemplateID:     req.TemplateID,
		TenantID:       req.TenantID,
		TotalsByStatus: map[string]int{},
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateBulkJob(ctx, job); err != nil {
		return "", nil, err
	}

	if req.IdempotencyKey != "" {
		if err := e.store.RecordIdempotencyResult(ctx, req.IdempotencyKey, "", job.JobID); err != nil {
			return "", nil, err
		}
	}

	results = make([]*EnqueueResult, 0, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		single := &models.EnqueueMessageRequest{
			Channel:    req.Channel,
			To:         rcpt.To,
			From:       req.From,
			TemplateID: req.TemplateID,
			Variables:  rcpt.Variables,
			TenantID:   req.TenantID,
			BulkJobID:  job.JobID,
		}
		res, enqErr := e.Enqueue(ctx, single)
		if enqErr != nil {
			res = &EnqueueResult{Status: models.MessageFailed}
		}
		results = append(results, res)
	}
	return job.JobID, results, nil
}

// QueueDepth reports how many messages are currently queued or
// awaiting retry, for the health endpoint's worker pool report (§4.9).
func (e *Engine) QueueDepth(ctx context.Context) (queued, retrying int64, err error) {
	queued, err = e.store.CountMessagesByStatus(ctx, models.MessageQueued)
	if err != nil {
		return 0, 0, err
	}
	retrying, err = e.store.CountMessagesByStatus(ctx, models.MessageRetry)
	if err != nil {
		return 0, 0, err
	}
	return queued, retrying, nil
}

func validateEnqueue(req *models.EnqueueMessageRequest) error {
	if req.To == "" {
		return errors.New("delivery: \"to\" is required")
	}
	if req.Channel != models.ChannelSMS && req.Channel != models.ChannelEmail {
		return fmt.Errorf("delivery: unknown channel %q", req.Channel)
	}
	if req.Channel == models.ChannelEmail && !strings.Contains(req.To, "@") {
		return fmt.Errorf("delivery: %q is not a valid email address", req.To)
	}
	if req.TemplateID == "" && req.Body == "" && req.Text == "" && req.HTML == "" {
		return errors.New("delivery: request has neither template_id nor inline body content")
	}
	return nil
}
