package delivery

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// workerStore is the subset of *store.Store the worker loop depends
// on.
type workerStore interface {
	ClaimSendableMessages(ctx context.Context, channel models.MessageChannel, limit int) ([]*models.Message, error)
	GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status models.MessageStatus, retryCount int, providerMsgID string) error
	SetMessageNextAttempt(ctx context.Context, messageID string, retryCount int, nextAttemptAt any) error
	IncrementMetricCounter(ctx context.Context, kind, outcome string) error
	GetMetricCounterToday(ctx context.Context, kind, outcome string) (int64, error)
	IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error
	CountBulkJobPending(ctx context.Context, jobID string) (int, error)
	CompleteBulkJob(ctx context.Context, jobID string) error
}

// Worker is the §4.8 worker loop: claims due messages, enforces rate
// limits and the optional warmup cap, dispatches to the channel's
// sender, and classifies failures into retry-with-backoff or a
// terminal failed (dead-letter) state.
type Worker struct {
	store       workerStore
	cfg         *config.DeliveryConfig
	rateLimiter RateLimiter
	sms         SMSSender
	email       EmailSender
}

// NewWorker constructs a Worker. sms or email may be nil if that
// channel is not configured for this deployment; ClaimSendableMessages
// is then simply never called for it.
func NewWorker(st workerStore, cfg *config.DeliveryConfig, rl RateLimiter, sms SMSSender, email EmailSender) *Worker {
	return &Worker{store: st, cfg: cfg, rateLimiter: rl, sms: sms, email: email}
}

// Run polls both channels' queues every cfg.QueueInterval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.QueueInterval)
	defer ticker.Stop()
	for {
		if w.sms != nil {
			w.RunOnce(ctx, models.ChannelSMS)
		}
		if w.email != nil {
			w.RunOnce(ctx, models.ChannelEmail)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and attempts delivery for one batch on one channel.
func (w *Worker) RunOnce(ctx context.Context, channel models.MessageChannel) error {
	batch, err := w.store.ClaimSendableMessages(ctx, channel, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, m := range batch {
		w.attempt(ctx, m)
	}
	return nil
}

func (w *Worker) attempt(ctx context.Context, m *models.Message) {
	if sup, err := w.store.GetSuppression(ctx, m.To, m.Channel); err == nil && sup != nil {
		_ = w.store.UpdateMessageStatus(ctx, m.MessageID, models.MessageSuppressed, m.RetryCount, "")
		w.updateBulkCounters(ctx, m.BulkJobID, models.MessageSuppressed)
		return
	}

	if ok, retryAfter := w.checkRateLimits(ctx, m); !ok {
		_ = w.store.SetMessageNextAttempt(ctx, m.MessageID, m.RetryCount, time.Now().Add(retryAfter))
		_ = w.store.IncrementMetricCounter(ctx, "message_"+string(m.Channel), "throttled")
		return
	}

	if m.Channel == models.ChannelEmail && w.cfg.EmailWarmupEnabled {
		sentToday, err := w.store.GetMetricCounterToday(ctx, "message_email", "sent")
		if err == nil && sentToday >= int64(w.cfg.EmailWarmupMaxPerDay) {
			_ = w.store.SetMessageNextAttempt(ctx, m.MessageID, m.RetryCount, time.Now().Add(time.Hour))
			_ = w.store.IncrementMetricCounter(ctx, "message_email", "warmup_capped")
			return
		}
	}

	result, err := w.send(ctx, m)
	if err == nil {
		_ = w.store.UpdateMessageStatus(ctx, m.MessageID, models.MessageSent, m.RetryCount, result.ProviderMessageID)
		_ = w.store.IncrementMetricCounter(ctx, "message_"+string(m.Channel), "sent")
		w.updateBulkCounters(ctx, m.BulkJobID, models.MessageSent)
		return
	}

	w.handleFailure(ctx, m, err)
}

func (w *Worker) send(ctx context.Context, m *models.Message) (*SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if m.Channel == models.ChannelSMS {
		return w.sms.SendSMS(sendCtx, m)
	}
	return w.email.SendEmail(sendCtx, m)
}

// handleFailure classifies a send error (§4.8 step 5): retryable
// errors reschedule with jittered exponential backoff up to
// cfg.MaxRetries, after which — like any non-retryable failure — the
// message becomes permanently failed, its terminal dead-letter state.
func (w *Worker) handleFailure(ctx context.Context, m *models.Message, sendErr error) {
	retryable := errors.Is(sendErr, ErrRetryable)
	retryCount := m.RetryCount + 1

	if retryable && retryCount < w.cfg.MaxRetries {
		backoff := time.Duration(float64(w.cfg.RetryBaseMs) * math.Pow(2, float64(retryCount-1))) * time.Millisecond
		maxBackoff := time.Duration(w.cfg.RetryMaxMs) * time.Millisecond
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(w.cfg.RetryJitterMs)+1)) * time.Millisecond
		_ = w.store.SetMessageNextAttempt(ctx, m.MessageID, retryCount, time.Now().Add(backoff+jitter))
		_ = w.store.IncrementMetricCounter(ctx, "message_"+string(m.Channel), "retry")
		return
	}

	_ = w.store.UpdateMessageStatus(ctx, m.MessageID, models.MessageFailed, retryCount, "")
	_ = w.store.IncrementMetricCounter(ctx, "message_"+string(m.Channel), "dead_letter")
	w.updateBulkCounters(ctx, m.BulkJobID, models.MessageFailed)
}

func (w *Worker) updateBulkCounters(ctx context.Context, bulkJobID string, status models.MessageStatus) {
	if bulkJobID == "" {
		return
	}
	_ = w.store.IncrementBulkJobStatus(ctx, bulkJobID, status)
	pending, err := w.store.CountBulkJobPending(ctx, bulkJobID)
	if err == nil && pending == 0 {
		_ = w.store.CompleteBulkJob(ctx, bulkJobID)
	}
}

// checkRateLimits enforces the provider/tenant/recipient-domain token
// buckets (§4.8 step 2). The largest required wait across the buckets
// that reported one is returned so the caller reschedules a single
// next_attempt_at.
func (w *Worker) checkRateLimits(ctx context.Context, m *models.Message) (bool, time.Duration) {
	if w.rateLimiter == nil {
		return true, 0
	}

	providerLimit := w.cfg.SMSRateLimitPerMinute
	providerKey := "provider:" + string(m.Channel)
	if m.Channel == models.ChannelEmail {
		providerLimit = w.cfg.EmailRateLimitProviderMin
	}

	var maxWait time.Duration
	ok := true

	if pOK, wait, _ := w.rateLimiter.Allow(ctx, providerKey, providerLimit); !pOK {
		ok = false
		maxWait = maxDuration(maxWait, wait)
	}

	if m.TenantID != "" {
		tenantLimit := w.cfg.EmailRateLimitTenantMin
		if tOK, wait, _ := w.rateLimiter.Allow(ctx, "tenant:"+m.TenantID, tenantLimit); !tOK {
			ok = false
			maxWait = maxDuration(maxWait, wait)
		}
	}

	if m.Channel == models.ChannelEmail {
		if domain := emailDomain(m.To); domain != "" {
			if dOK, wait, _ := w.rateLimiter.Allow(ctx, "domain:"+domain, w.cfg.EmailRateLimitDomainMin); !dOK {
				ok = false
				maxWait = maxDuration(maxWait, wait)
			}
		}
	}

	if !ok && maxWait <= 0 {
		maxWait = time.Second
	}
	return ok, maxWait
}

func emailDomain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
