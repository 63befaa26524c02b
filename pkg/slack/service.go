package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service delivers call-lifecycle notifications (§4.6) to a Slack
// channel, threading every notification for the same call under the
// first message posted for it.
//
// Nil-safe: all methods are no-ops when the service is nil, so a
// deployment without Slack configured can wire a *Service straight
// into a notify.Worker without a conditional at the call site.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil if
// Token or Channel is empty — the caller then has no Slack channel to
// register as a notify.Deliverer.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// Deliver implements notify.Deliverer. It finds (or starts) the Slack
// thread for n.CallID using the call id itself as the search
// fingerprint, so every notification raised for the same call — ringing
// failure, completion, transcript excerpt — lands as a reply in one
// thread instead of flooding the channel with top-level messages.
func (s *Service) Deliver(ctx context.Context, n *models.Notification) error {
	if s == nil {
		return nil
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, n.CallID)
	if err != nil {
		s.logger.Warn("failed to look up existing Slack thread",
			"call_id", n.CallID, "error", err)
	}

	blocks := BuildNotificationMessage(n, s.dashboardURL)
	return s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second)
}
