// Package notify implements the Notification Fan-out Worker (§4.6):
// a poll loop claiming pending notifications in priority order and
// delivering them with bounded, jittered-backoff retry.
package notify

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

const maxRetries = 3

// notifyStore is the subset of *store.Store the worker depends on.
type notifyStore interface {
	ClaimPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	UpsertNotification(ctx context.Context, n *models.Notification) error
	IncrementMetricCounter(ctx context.Context, kind, outcome string) error
}

// Deliverer sends one notification to its subscriber over whatever
// transport its delivery_channel names (webhook POST, Slack message,
// ...). Returning a retryable error reschedules; any other error also
// retries up to maxRetries, since §4.6 makes no channel-level
// distinction between transient and permanent failures.
type Deliverer interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// Config carries the worker's batch size and timing parameters.
type Config struct {
	Batch         int
	PollInterval  time.Duration
	DeliverTimeout time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
}

// Worker drains pending notifications on a poll loop.
type Worker struct {
	store     notifyStore
	deliverer Deliverer
	cfg       Config
}

// New constructs a Worker.
func New(store notifyStore, deliverer Deliverer, cfg Config) *Worker {
	if cfg.Batch <= 0 {
		cfg.Batch = 25
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 60 * time.Second
	}
	return &Worker{store: store, deliverer: deliverer, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and attempts delivery for one batch.
func (w *Worker) RunOnce(ctx context.Context) error {
	batch, err := w.store.ClaimPendingNotifications(ctx, w.cfg.Batch)
	if err != nil {
		return err
	}
	for _, n := range batch {
		w.attempt(ctx, n)
	}
	return nil
}

func (w *Worker) attempt(ctx context.Context, n *models.Notification) {
	deliverCtx := ctx
	var cancel context.CancelFunc
	if w.cfg.DeliverTimeout > 0 {
		deliverCtx, cancel = context.WithTimeout(ctx, w.cfg.DeliverTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.deliverer.Deliver(deliverCtx, n)
	elapsed := time.Since(start).Milliseconds()

	if err == nil {
		now := time.Now().UTC()
		n.Status = models.NotificationSent
		n.SentAt = &now
		n.DeliveryMs = &elapsed
		_ = w.store.UpsertNotification(ctx, n)
		_ = w.store.IncrementMetricCounter(ctx, string(n.Kind), "sent")
		return
	}

	n.RetryCount++
	if n.RetryCount >= maxRetries {
		n.Status = models.NotificationFailed
		_ = w.store.UpsertNotification(ctx, n)
		_ = w.store.IncrementMetricCounter(ctx, string(n.Kind), "failed")
		return
	}

	n.Status = models.NotificationRetrying
	_ = w.store.UpsertNotification(ctx, n)
	_ = w.store.IncrementMetricCounter(ctx, string(n.Kind), "retrying")
	w.sleepBackoff(ctx, n.RetryCount)
}

func (w *Worker) sleepBackoff(ctx context.Context, attempt int) {
	backoff := time.Duration(float64(w.cfg.RetryBase) * math.Pow(2, float64(attempt-1)))
	if backoff > w.cfg.RetryMax {
		backoff = w.cfg.RetryMax
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
	select {
	case <-ctx.Done():
	case <-time.After(jitter):
	}
}
