// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// purgeStore is the subset of *store.Store the cleanup loop depends on.
type purgeStore interface {
	PurgeExpired(ctx context.Context, now time.Time, callRetention, digitEventTTL, notificationTTL, providerHealthTTL, eventTTL time.Duration) (*store.CleanupResult, error)
}

// Service periodically enforces §4.1's age-based retention policy:
// soft-deleting ended/failed calls past config.RetentionConfig's
// window and hard-deleting digit events, notifications, provider
// health samples, and orphaned event-bus rows past theirs.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  purgeStore

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st purgeStore) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.run(ctx)

	slog.Info("cleanup service started",
		"call_retention_days", s.config.CallRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.running.Store(false)
	slog.Info("cleanup service stopped")
}

// Running reports whether the background cleanup loop is currently
// active, for the health endpoint's worker pool report (§4.9).
func (s *Service) Running() bool {
	return s.running.Load()
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	res, err := s.store.PurgeExpired(ctx, time.Now().UTC(),
		time.Duration(s.config.CallRetentionDays)*24*time.Hour,
		s.config.DigitEventTTL,
		s.config.NotificationTTL,
		s.config.ProviderHealthLogTTL,
		s.config.EventTTL,
	)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if res.CallsSoftDeleted+res.DigitEventsDeleted+res.NotificationsDeleted+res.EventsDeleted+res.ProviderHealthDeleted > 0 {
		slog.Info("retention sweep completed",
			"calls_soft_deleted", res.CallsSoftDeleted,
			"digit_events_deleted", res.DigitEventsDeleted,
			"notifications_deleted", res.NotificationsDeleted,
			"provider_health_deleted", res.ProviderHealthDeleted,
			"events_deleted", res.EventsDeleted)
	}
}
